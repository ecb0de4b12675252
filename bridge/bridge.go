// Package bridge adapts a discordgo session into the voice client: it
// implements the gateway handle over the session and feeds the session's
// voice events into the client.
package bridge

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/solunet/waveform/discord"
	"github.com/solunet/waveform/gateway"
	"github.com/solunet/waveform/voice"
)

// New creates a voice client bound to the given discordgo session. The
// session must be opened already, so that the bot's own user is known.
func New(s *discordgo.Session) (*voice.Client, error) {
	if s.State == nil || s.State.User == nil {
		return nil, errors.New("session has no self user; open it first")
	}

	userID, err := discord.ParseSnowflake(s.State.User.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse self user ID")
	}

	return NewWithUserID(s, discord.UserID(userID)), nil
}

// NewWithUserID creates a voice client bound to the given discordgo session
// with an explicit bot user ID.
func NewWithUserID(s *discordgo.Session, userID discord.UserID) *voice.Client {
	client := voice.NewClient(handle{s}, userID)

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
		guildID, err := discord.ParseSnowflake(ev.GuildID)
		if err != nil {
			return
		}

		client.UpdateServer(&gateway.VoiceServerUpdateEvent{
			GuildID:  discord.GuildID(guildID),
			Token:    ev.Token,
			Endpoint: ev.Endpoint,
		})
	})

	s.AddHandler(func(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
		guildID, err := discord.ParseSnowflake(ev.GuildID)
		if err != nil {
			return
		}
		channelID, _ := discord.ParseSnowflake(ev.ChannelID)
		stateUserID, err := discord.ParseSnowflake(ev.UserID)
		if err != nil {
			return
		}

		client.UpdateState(&gateway.VoiceStateUpdateEvent{
			GuildID:   discord.GuildID(guildID),
			ChannelID: discord.ChannelID(channelID),
			UserID:    discord.UserID(stateUserID),
			SessionID: ev.SessionID,
		})
	})

	return client
}

// handle sends voice state updates through the discordgo session's main
// gateway.
type handle struct {
	s *discordgo.Session
}

var _ gateway.Handle = handle{}

func (h handle) UpdateVoiceState(ctx context.Context, data gateway.UpdateVoiceStateData) error {
	var channelID string
	if data.ChannelID.IsValid() {
		channelID = data.ChannelID.String()
	}

	return h.s.ChannelVoiceJoinManual(
		data.GuildID.String(), channelID, data.SelfMute, data.SelfDeaf)
}
