// Package gateway defines the contract between this library and the host bot's
// main gateway: the two events the bot must forward in, and the single voice
// state command the library sends back out.
package gateway

import "github.com/solunet/waveform/discord"

// VoiceServerUpdateEvent is sent by the main gateway when a guild's voice
// server is allocated or changes. It carries the endpoint and token needed to
// authenticate with the voice node.
type VoiceServerUpdateEvent struct {
	GuildID  discord.GuildID `json:"guild_id"`
	Token    string          `json:"token"`
	Endpoint string          `json:"endpoint"`
}

// VoiceStateUpdateEvent is sent by the main gateway when any user's voice
// state changes. The library only acts on the bot's own state, which carries
// the session ID needed to identify with the voice node.
type VoiceStateUpdateEvent struct {
	GuildID   discord.GuildID   `json:"guild_id"`
	ChannelID discord.ChannelID `json:"channel_id"`
	UserID    discord.UserID    `json:"user_id"`
	SessionID string            `json:"session_id"`
}
