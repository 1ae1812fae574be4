package model

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Slice returns the box as [x1, y1, x2, y2].
func (b BBox) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Width of the box in pixels.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height of the box in pixels.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Candidate is a single raw classifier output for one frame.
type Candidate struct {
	ClassID    int
	Label      string
	Confidence float64
	Box        BBox
}

// DetectionResult is produced for every scored frame.
// It carries the SourceID and timestamp of the frame it was derived from.
type DetectionResult struct {
	Positive         bool
	Confidence       float64
	Box              *BBox
	FrameTimestampMs int64
	SourceID         string
}
