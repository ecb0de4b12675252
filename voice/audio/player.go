package audio

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/solunet/waveform/utils/moreatomic"
)

// Writer is the narrow slice of a voice connection the player needs: it
// accepts one encoded Opus frame, builds the packet around it, paces, and
// sends. *udp.Connection satisfies it.
type Writer interface {
	Write(opus []byte) (int, error)
}

// Player drives one Source into a Writer, frame by frame. The stop flag is
// observed at frame boundaries only; a packet is never cut short.
type Player struct {
	enc Encoder
	w   Writer

	playing moreatomic.Bool

	frame [FrameBytes]byte
}

func NewPlayer(enc Encoder, w Writer) *Player {
	return &Player{enc: enc, w: w}
}

// Playing reports whether a playback loop is currently running.
func (p *Player) Playing() bool {
	return p.playing.Get()
}

// Stop asks the playback loop to exit at the next frame boundary.
func (p *Player) Stop() {
	p.playing.Set(false)
}

// Play consumes src until exhaustion, Stop, or context cancellation. The
// source is closed before returning. End of stream is a normal return; a
// transport failure is not.
func (p *Player) Play(ctx context.Context, src Source) error {
	defer src.Close()

	p.playing.Set(true)
	defer p.playing.Set(false)

	for p.playing.Get() {
		pcm, err := src.Next(ctx)
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return errors.Wrap(err, "failed to read PCM frame")
		case len(pcm) == 0:
			return nil
		}

		if len(pcm) > FrameBytes {
			return ErrInvalidFrameSize
		}

		// Right-pad a short final frame with silence; the encoder only takes
		// whole frames.
		frame := pcm
		if len(pcm) < FrameBytes {
			n := copy(p.frame[:], pcm)
			copy(p.frame[n:], silentFrame[n:])
			frame = p.frame[:]
		}

		opus, err := p.enc.Encode(frame)
		if err != nil {
			return err
		}

		if _, err := p.w.Write(opus); err != nil {
			return errors.Wrap(err, "failed to send voice packet")
		}
	}

	return nil
}
