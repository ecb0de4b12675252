// Package waveform is a voice streaming library for Discord bots. It joins a
// guild's voice channel, authenticates with the dynamically-assigned voice
// node, and streams locally-produced audio to it as encrypted RTP over UDP.
//
// # Voice
//
// Package voice is the entry point. It maps guilds to connections and drives
// the whole session: the voice gateway handshake, UDP IP discovery,
// encryption negotiation, and playback.
//
// # Bridge
//
// Package bridge wires a discordgo session into the voice client. Bots built
// on other frameworks implement the small gateway.Handle interface instead
// and forward the two voice events themselves.
//
// # Low level packages
//
// voice/voicegateway speaks the voice WebSocket protocol, voice/udp owns the
// datagram transport and RTP packetizer, voice/crypt implements the
// negotiable packet encryption schemes, and voice/audio produces the Opus
// frame stream.
package waveform

import (
	// The packages most bots use.
	_ "github.com/solunet/waveform/bridge"
	_ "github.com/solunet/waveform/voice"

	// Low level packages.
	_ "github.com/solunet/waveform/voice/crypt"
	_ "github.com/solunet/waveform/voice/udp"
	_ "github.com/solunet/waveform/voice/voicegateway"
)
