// Package audio produces the outbound audio stream: PCM sources, the Opus
// encoder wrapper, and the player that turns frames into paced packets.
package audio

import (
	"github.com/pkg/errors"
	"gopkg.in/hraban/opus.v2"
)

const (
	// SampleRate is the sample rate the voice node requires.
	SampleRate = 48000
	// Channels is the channel count the voice node requires.
	Channels = 2
	// FrameSize is the number of samples per 20ms frame.
	FrameSize = 960
	// FrameBytes is the size of one s16le PCM frame.
	FrameBytes = FrameSize * Channels * 2

	// maxOpusFrame is the largest possible encoded Opus frame.
	maxOpusFrame = 1275
)

// ErrInvalidFrameSize is returned when a PCM frame reaching the encoder is
// not exactly FrameBytes long.
var ErrInvalidFrameSize = errors.Errorf("PCM frame must be %d bytes", FrameBytes)

// Application selects the Opus application mode.
type Application string

const (
	ApplicationVoIP     Application = "voip"
	ApplicationAudio    Application = "audio" // default
	ApplicationLowDelay Application = "lowdelay"
)

func (a Application) opus() opus.Application {
	switch a {
	case ApplicationVoIP:
		return opus.AppVoIP
	case ApplicationLowDelay:
		return opus.AppRestrictedLowdelay
	default:
		return opus.AppAudio
	}
}

// Encoder encodes one full PCM frame into an Opus frame.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// OpusEncoder is the libopus-backed Encoder. It is not safe for concurrent
// use; each player owns its own.
type OpusEncoder struct {
	enc *opus.Encoder

	pcm [FrameSize * Channels]int16
	buf [maxOpusFrame]byte
}

// NewOpusEncoder creates an encoder at the fixed 48kHz stereo configuration.
func NewOpusEncoder(app Application) (*OpusEncoder, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, app.opus())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Opus encoder")
	}

	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes exactly one s16le PCM frame. The returned slice is only
// valid until the next call.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != FrameBytes {
		return nil, ErrInvalidFrameSize
	}

	for i := range e.pcm {
		e.pcm[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	n, err := e.enc.Encode(e.pcm[:], e.buf[:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode PCM frame")
	}

	return e.buf[:n], nil
}
