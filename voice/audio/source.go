package audio

import "context"

// Source is a lazy, finite-or-infinite sequence of PCM frames. The player
// consumes it without knowing the variant.
type Source interface {
	// Next produces the next PCM frame, of at most FrameBytes. It returns
	// io.EOF once the source is exhausted; a short final frame is the
	// player's to pad.
	Next(ctx context.Context) ([]byte, error)

	// Close releases whatever the source holds. It is called exactly once,
	// on completion or cancellation.
	Close() error
}

// silentFrame is one full frame of silence. Sources hand out the shared
// slice; consumers must not write into it.
var silentFrame = make([]byte, FrameBytes)

// SilenceSource yields zero PCM frames indefinitely.
type SilenceSource struct{}

// Silence returns a source of endless silence.
func Silence() SilenceSource {
	return SilenceSource{}
}

func (SilenceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return silentFrame, nil
}

func (SilenceSource) Close() error { return nil }
