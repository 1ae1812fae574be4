package model

import "time"

// DetectionEvent is the unit delivered to alert listeners.
type DetectionEvent struct {
	ID               string
	Objects          []string
	Confidence       float64
	Box              *BBox
	SourceID         string
	FrameTimestampMs int64
	OccurredAt       time.Time
}

// Snapshot is the persisted side effect of an escalated detection.
type Snapshot struct {
	EventID string
	Result  DetectionResult
	Frame   Frame
	Objects map[string]int
}
