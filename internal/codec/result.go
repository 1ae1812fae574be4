package codec

import (
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/wire"
)

// EncodeResult builds the wire message for r. The box is only sent for
// positive results.
func EncodeResult(r model.DetectionResult) *wire.DetectionResult {
	msg := &wire.DetectionResult{
		IsFall:         r.Positive,
		Confidence:     float32(r.Confidence),
		FrameTimestamp: r.FrameTimestampMs,
		CameraID:       r.SourceID,
	}
	if r.Positive && r.Box != nil {
		msg.BBox = []float32{float32(r.Box.X1), float32(r.Box.Y1), float32(r.Box.X2), float32(r.Box.Y2)}
	}
	return msg
}

// ResultOf converts a received wire result. A bbox that does not hold four
// values is ignored.
func ResultOf(msg *wire.DetectionResult) model.DetectionResult {
	r := model.DetectionResult{
		Positive:         msg.IsFall,
		Confidence:       float64(msg.Confidence),
		FrameTimestampMs: msg.FrameTimestamp,
		SourceID:         msg.CameraID,
	}
	if len(msg.BBox) == 4 {
		r.Box = &model.BBox{
			X1: float64(msg.BBox[0]),
			Y1: float64(msg.BBox[1]),
			X2: float64(msg.BBox[2]),
			Y2: float64(msg.BBox[3]),
		}
	}
	return r
}
