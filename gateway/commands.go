package gateway

import (
	"context"

	"github.com/solunet/waveform/discord"
)

// UpdateVoiceStateData is the payload the host bot sends over its main gateway
// to join, move or leave a voice channel. A null ChannelID leaves the current
// channel.
type UpdateVoiceStateData struct {
	GuildID   discord.GuildID   `json:"guild_id"`
	ChannelID discord.ChannelID `json:"channel_id"` // NullSnowflake to leave
	SelfMute  bool              `json:"self_mute"`
	SelfDeaf  bool              `json:"self_deaf"`
}

// Handle is the one capability the library needs from the host bot. The bot
// implements it over whatever main gateway it owns; package bridge provides an
// implementation for discordgo.
type Handle interface {
	UpdateVoiceState(ctx context.Context, data UpdateVoiceStateData) error
}
