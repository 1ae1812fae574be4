package repository

import (
	"github.com/zpskt/keen/internal/model"
)

// EventRepository defines the interface for persisted detection events.
type EventRepository interface {
	// Create operations
	Insert(rec *model.EventRecord) (int64, error)

	// Read operations
	GetByID(id int64) (*model.EventRecord, error)
	GetByEventID(eventID string) (*model.EventRecord, error)
	Exists(cameraID string, timestamp int64) (bool, error)
	List(filter *model.EventFilter) ([]model.EventRecord, error)
	Count(filter *model.EventFilter) (int, error)
	GetCameras() ([]string, error)

	// Delete operations
	Delete(id int64) error
	DeleteByCamera(cameraID string) error
}

// ObjectRepository defines the interface for the labels detected with an event.
type ObjectRepository interface {
	// Create operations
	InsertBatch(eventID int64, objects map[string]int) error

	// Read operations
	GetByEventID(eventID int64) (map[string]int, error)
	GetAllObjectNames() ([]string, error)
}
