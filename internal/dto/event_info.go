package dto

import (
	"encoding/json"
	"time"
)

// EventInfo is one persisted detection as shown to API clients.
type EventInfo struct {
	ID         int64     `json:"id"`
	EventID    string    `json:"eventId"`
	Camera     string    `json:"camera"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	Image      string    `json:"image"` // Path relative to the storage root
	Date       time.Time `json:"date"`
	TimeOfDay  time.Time `json:"timeOfDay"`
	Objects    []string  `json:"objects"`
}

// MarshalJSON formats the date and time of day the way the viewer pages expect.
func (e EventInfo) MarshalJSON() ([]byte, error) {
	type Alias EventInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      e.Date.Format("02-01-2006"),
		TimeOfDay: e.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(e),
	})
}
