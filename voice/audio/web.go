package audio

import (
	"context"

	"github.com/pkg/errors"
)

// ErrWebSourceUnimplemented is returned by every WebSource.Next call.
var ErrWebSourceUnimplemented = errors.New("web audio source is not implemented")

// WebSource is a placeholder source for a remote URL. It streams nothing:
// Next fails on the first frame with ErrWebSourceUnimplemented.
type WebSource struct {
	URL string
}

func NewWebSource(url string) *WebSource {
	return &WebSource{URL: url}
}

func (s *WebSource) Next(ctx context.Context) ([]byte, error) {
	return nil, ErrWebSourceUnimplemented
}

func (s *WebSource) Close() error { return nil }
