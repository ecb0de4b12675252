package audio

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// FFmpegPath is the transcoder binary spawned by FileSource.
var FFmpegPath = "ffmpeg"

// FileSource transcodes a local file into PCM frames through an external
// ffmpeg process. The process is spawned lazily on the first frame and killed
// when the source is closed.
type FileSource struct {
	path string

	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    [FrameBytes]byte

	closeOnce sync.Once
}

// NewFileSource creates a source for the given file path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) start() error {
	cmd := exec.Command(FFmpegPath,
		"-i", s.path,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "failed to get ffmpeg stdout")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to start ffmpeg")
	}

	s.cmd = cmd
	s.stdout = stdout
	return nil
}

// Next reads the next PCM frame from the transcoder. A short read at the end
// of the stream yields a short frame; any later read error is treated as end
// of stream.
func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	n, err := io.ReadFull(s.stdout, s.buf[:])
	if n == 0 {
		return nil, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		// Whatever took the pipe down, the stream is over.
		return nil, io.EOF
	}

	return s.buf[:n], nil
}

// Close terminates the transcoder process, if it was ever started.
func (s *FileSource) Close() error {
	var err error

	s.closeOnce.Do(func() {
		if s.cmd == nil {
			return
		}

		s.stdout.Close()
		s.cmd.Process.Kill()
		err = s.cmd.Wait()
	})

	return err
}
