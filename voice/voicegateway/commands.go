package voicegateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/discord"
)

// ErrMissingForIdentify is an error when we are missing information to identify.
var ErrMissingForIdentify = errors.New("missing GuildID, UserID, SessionID, or Token for identify")

// ErrMissingForResume is an error when we are missing information to resume.
var ErrMissingForResume = errors.New("missing GuildID, SessionID, or Token for resuming")

// OPCode 0
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-identify-payload
type IdentifyData struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	UserID    discord.UserID  `json:"user_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Identify sends an Identify operation (opcode 0) to the voice gateway.
func (c *Gateway) Identify() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	return c.IdentifyCtx(ctx)
}

// IdentifyCtx sends an Identify operation (opcode 0) to the voice gateway.
func (c *Gateway) IdentifyCtx(ctx context.Context) error {
	guildID := c.state.GuildID
	userID := c.state.UserID
	sessionID := c.state.SessionID
	token := c.state.Token

	if !guildID.IsValid() || !userID.IsValid() || sessionID == "" || token == "" {
		return ErrMissingForIdentify
	}

	return c.SendCtx(ctx, IdentifyOP, IdentifyData{
		GuildID:   guildID,
		UserID:    userID,
		SessionID: sessionID,
		Token:     token,
	})
}

// OPCode 1
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-select-protocol-payload
type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SelectProtocolCtx sends a Select Protocol operation (opcode 1) to the voice
// gateway.
func (c *Gateway) SelectProtocolCtx(ctx context.Context, data SelectProtocol) error {
	return c.SendCtx(ctx, SelectProtocolOP, data)
}

// OPCode 3
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-payload-since-v8
type HeartbeatData struct {
	// Time is the client's millisecond unix timestamp, echoed back in the
	// acknowledgement.
	Time int64 `json:"t"`

	// SeqAck acknowledges the last server sequence seen, or -1 when none has
	// arrived yet.
	SeqAck int64 `json:"seq_ack"`
}

// Heartbeat sends a Heartbeat operation (opcode 3) acknowledging the latest
// server sequence.
func (c *Gateway) Heartbeat() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	return c.SendCtx(ctx, HeartbeatOP, HeartbeatData{
		Time:   time.Now().UnixMilli(),
		SeqAck: atomic.LoadInt64(&c.sequence),
	})
}

// https://discord.com/developers/docs/topics/voice-connections#speaking
type SpeakingFlag uint64

// NotSpeaking clears the speaking state.
const NotSpeaking SpeakingFlag = 0

const (
	Microphone SpeakingFlag = 1 << iota
	Soundshare
	Priority
)

// OPCode 5
// https://discord.com/developers/docs/topics/voice-connections#speaking-example-speaking-payload
type SpeakingData struct {
	Speaking SpeakingFlag `json:"speaking"`
	Delay    int          `json:"delay"`
	SSRC     uint32       `json:"ssrc"`
}

// Speaking sends a Speaking operation (opcode 5) to the voice gateway.
func (c *Gateway) Speaking(flag SpeakingFlag) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	return c.SpeakingCtx(ctx, flag)
}

// SpeakingCtx sends a Speaking operation (opcode 5) to the voice gateway.
func (c *Gateway) SpeakingCtx(ctx context.Context, flag SpeakingFlag) error {
	c.mutex.RLock()
	ssrc := c.ready.SSRC
	c.mutex.RUnlock()

	return c.SendCtx(ctx, SpeakingOP, SpeakingData{
		Speaking: flag,
		Delay:    0,
		SSRC:     ssrc,
	})
}

// OPCode 7
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resume-connection-payload
type ResumeData struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
	SeqAck    int64           `json:"seq_ack"`
}

// ResumeCtx sends a Resume operation (opcode 7) to the voice gateway. The
// connection flow never resumes, but the command is part of the protocol.
func (c *Gateway) ResumeCtx(ctx context.Context) error {
	guildID := c.state.GuildID
	sessionID := c.state.SessionID
	token := c.state.Token

	if !guildID.IsValid() || sessionID == "" || token == "" {
		return ErrMissingForResume
	}

	return c.SendCtx(ctx, ResumeOP, ResumeData{
		GuildID:   guildID,
		SessionID: sessionID,
		Token:     token,
		SeqAck:    atomic.LoadInt64(&c.sequence),
	})
}
