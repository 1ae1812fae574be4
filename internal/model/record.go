package model

import "time"

// EventRecord represents a persisted detection event row.
type EventRecord struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"eventId"`
	CameraID   string    `json:"cameraId"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	ImagePath  string    `json:"imagePath"`
	Timestamp  int64     `json:"timestamp"`
	ImageSize  int64     `json:"imageSize"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EventFilter contains filtering options for querying event records.
type EventFilter struct {
	CameraID string
	Object   string
	After    time.Time
	Before   time.Time
	Limit    int
	Offset   int
}
