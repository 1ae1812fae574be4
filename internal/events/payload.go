package events

import (
	"encoding/json"
	"time"

	"github.com/zpskt/keen/internal/model"
)

// Payload is the JSON form of an event sent to HTTP callbacks and brokers.
type Payload struct {
	ID             string    `json:"id"`
	Objects        []string  `json:"objects"`
	Source         string    `json:"source"`
	Confidence     float64   `json:"confidence"`
	BBox           []float64 `json:"bbox"`
	FrameTimestamp int64     `json:"frame_timestamp"`
	Timestamp      string    `json:"timestamp"`
}

// NewPayload converts ev to its wire form.
func NewPayload(ev model.DetectionEvent) Payload {
	p := Payload{
		ID:             ev.ID,
		Objects:        ev.Objects,
		Source:         ev.SourceID,
		Confidence:     ev.Confidence,
		BBox:           []float64{},
		FrameTimestamp: ev.FrameTimestampMs,
		Timestamp:      ev.OccurredAt.Format(time.RFC3339Nano),
	}
	if p.Objects == nil {
		p.Objects = []string{}
	}
	if ev.Box != nil {
		p.BBox = ev.Box.Slice()
	}
	return p
}

func marshalEvent(ev model.DetectionEvent) ([]byte, error) {
	return json.Marshal(NewPayload(ev))
}
