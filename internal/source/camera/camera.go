// Package camera reads frames from a local video device or an RTSP URL via OpenCV.
package camera

import (
	"context"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/source"
)

// ErrReadFailed is returned when the capture yields no frame, e.g. after the
// device was unplugged or the stream dropped.
var ErrReadFailed = errors.New("failed to read frame from capture")

// Capture wraps gocv.VideoCapture. Frames are re-encoded as JPEG.
type Capture struct {
	Device   string // Device index ("0") or a stream URL
	SourceID string
	Quality  int
	Clock    clock.Clock

	capture *gocv.VideoCapture
	mat     gocv.Mat
}

var _ source.Source = (*Capture)(nil)

func New(device, sourceID string, quality int) *Capture {
	return &Capture{Device: device, SourceID: sourceID, Quality: quality, Clock: clock.New()}
}

func (c *Capture) Open(_ context.Context) error {
	var device interface{} = c.Device
	if id, err := strconv.Atoi(c.Device); err == nil {
		device = id
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return errors.Wrapf(err, "failed to open capture %s", c.Device)
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.Errorf("capture %s did not open", c.Device)
	}
	c.capture = capture
	c.mat = gocv.NewMat()
	return nil
}

func (c *Capture) Read(ctx context.Context) (model.Frame, error) {
	if c.capture == nil {
		return model.Frame{}, source.ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return model.Frame{}, ErrReadFailed
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat, []int{int(gocv.IMWriteJpegQuality), c.Quality})
	if err != nil {
		return model.Frame{}, errors.Wrap(err, "failed to encode frame")
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return model.Frame{
		ImageBytes:  data,
		Encoding:    model.EncodingJPEG,
		Width:       c.mat.Cols(),
		Height:      c.mat.Rows(),
		TimestampMs: c.Clock.Now().UnixMilli(),
		SourceID:    c.SourceID,
	}, nil
}

func (c *Capture) Close() error {
	if c.capture == nil {
		return nil
	}
	c.mat.Close()
	err := c.capture.Close()
	c.capture = nil
	return err
}
