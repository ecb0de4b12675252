package audio

import (
	"context"
	"testing"
)

func TestSilenceSource(t *testing.T) {
	src := Silence()
	defer src.Close()

	for i := 0; i < 3; i++ {
		frame, err := src.Next(context.Background())
		if err != nil {
			t.Fatal("Silence ended:", err)
		}
		if len(frame) != FrameBytes {
			t.Fatal("Unexpected frame size:", len(frame))
		}
		for _, b := range frame {
			if b != 0 {
				t.Fatal("Silence frame is not silent.")
			}
		}
	}
}

func TestSilenceSourceCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Silence().Next(ctx); err == nil {
		t.Fatal("Expected a context error.")
	}
}

func TestFileSourceCloseBeforeStart(t *testing.T) {
	src := NewFileSource("/nonexistent.ogg")

	// Closing a source whose process never spawned must be a no-op.
	if err := src.Close(); err != nil {
		t.Fatal("Close failed:", err)
	}
	if err := src.Close(); err != nil {
		t.Fatal("Second close failed:", err)
	}
}

func TestWebSourceUnimplemented(t *testing.T) {
	src := NewWebSource("https://example.com/audio.ogg")
	defer src.Close()

	if _, err := src.Next(context.Background()); err != ErrWebSourceUnimplemented {
		t.Fatal("Expected ErrWebSourceUnimplemented, got", err)
	}
}
