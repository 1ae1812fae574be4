// Package source produces frames for the camera client.
package source

import (
	"bytes"
	"context"
	"image/jpeg"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/model"
)

// Source is a producer of frames. After a Read error the caller may Close
// and Open the source again; io.EOF means the source is exhausted for good.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (model.Frame, error)
	Close() error
}

// ErrNotOpen is returned by Read before Open succeeded or after Close.
var ErrNotOpen = errors.New("source is not open")

// jpegSize reads the dimensions from a JPEG header without decoding pixels.
func jpegSize(data []byte) (int, int, error) {
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, errors.Wrap(err, "invalid jpeg")
	}
	return cfg.Width, cfg.Height, nil
}
