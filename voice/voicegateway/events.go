package voicegateway

import (
	"strconv"
	"time"

	"github.com/solunet/waveform/utils/json"
	"github.com/solunet/waveform/voice/crypt"
)

// Milliseconds is a duration in milliseconds, as the wire carries it.
type Milliseconds float64

func (ms Milliseconds) Duration() time.Duration {
	return time.Duration(float64(ms) * float64(time.Millisecond))
}

// OPCode 2
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-ready-payload
type ReadyEvent struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`

	// From Discord's API Docs:
	//
	// `heartbeat_interval` here is an erroneous field and should be ignored.
	// The correct `heartbeat_interval` value comes from the Hello payload.
}

func (r ReadyEvent) Addr() string {
	return r.IP + ":" + strconv.Itoa(r.Port)
}

// SecretKey is the 32-byte session key. The voice node sends it as an array
// of integers.
type SecretKey [crypt.KeySize]byte

func (k *SecretKey) UnmarshalJSON(b []byte) error {
	// Decode through a wider integer type: a []byte would be read as a
	// base64 string rather than a number array.
	var ints []uint16
	if err := json.Unmarshal(b, &ints); err != nil {
		return err
	}

	if len(ints) != crypt.KeySize {
		return crypt.ErrInvalidSecretKey
	}

	for i, v := range ints {
		k[i] = byte(v)
	}
	return nil
}

// OPCode 4
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-session-description-payload
type SessionDescriptionEvent struct {
	Mode      string    `json:"mode"`
	SecretKey SecretKey `json:"secret_key"`
}

// OPCode 5
type SpeakingEvent SpeakingData

// OPCode 6
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-ack-payload
type HeartbeatACKEvent struct {
	Time int64 `json:"t"`
}

// OPCode 8
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-hello-payload-since-v3
type HelloEvent struct {
	HeartbeatInterval Milliseconds `json:"heartbeat_interval"`
}

// OPCode 9
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resumed-payload
type ResumedEvent struct{}
