// Package frames turns an uploaded video into the sharp, normalized frames
// the video classifier consumes.
package frames

import (
	"context"
)

// Raw is one decoded frame in packed BGR24 order.
type Raw struct {
	Width  int
	Height int
	BGR    []byte
}

// Valid reports whether the buffer length matches the dimensions.
func (r Raw) Valid() bool {
	return r.Width > 0 && r.Height > 0 && len(r.BGR) == r.Width*r.Height*3
}

// Source yields decoded frames in presentation order. Next returns io.EOF
// once the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (Raw, error)
	Close() error
}

// Decoder opens a video file as a frame source.
type Decoder interface {
	Open(ctx context.Context, path string) (Source, error)
}
