package sqlite

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/model"
)

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `e.id, e.event_id, e.camera_id, e.confidence, e.bbox, e.image_path, e.image_size, e.timestamp, e.created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*model.EventRecord, error) {
	var rec model.EventRecord
	var bbox string
	if err := s.Scan(&rec.ID, &rec.EventID, &rec.CameraID, &rec.Confidence, &bbox, &rec.ImagePath, &rec.ImageSize, &rec.Timestamp, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bbox), &rec.BBox); err != nil {
		return nil, errors.Wrap(err, "failed to decode bbox")
	}
	return &rec, nil
}

// Insert adds a new event record to the database.
func (r *EventRepository) Insert(rec *model.EventRecord) (int64, error) {
	bbox := rec.BBox
	if bbox == nil {
		bbox = []float64{}
	}
	encoded, err := json.Marshal(bbox)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode bbox")
	}

	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO detection_events (event_id, camera_id, confidence, bbox, image_path, image_size, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.CameraID, rec.Confidence, string(encoded), rec.ImagePath, rec.ImageSize, rec.Timestamp)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert event")
	}

	return result.LastInsertId()
}

// GetByID retrieves an event by its row ID. A missing row yields nil, nil.
func (r *EventRepository) GetByID(id int64) (*model.EventRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rec, err := scanEvent(r.db.Conn().QueryRow(`SELECT `+eventColumns+` FROM detection_events e WHERE e.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}
	return rec, nil
}

// GetByEventID retrieves an event by its public event ID.
func (r *EventRepository) GetByEventID(eventID string) (*model.EventRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rec, err := scanEvent(r.db.Conn().QueryRow(`SELECT `+eventColumns+` FROM detection_events e WHERE e.event_id = ?`, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get event")
	}
	return rec, nil
}

// Exists checks whether a camera already has an event at the given timestamp.
func (r *EventRepository) Exists(cameraID string, timestamp int64) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detection_events WHERE camera_id = ? AND timestamp = ?`, cameraID, timestamp).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "failed to check event existence")
	}
	return count > 0, nil
}

func filterClause(filter *model.EventFilter) (string, []interface{}) {
	query := `
		FROM detection_events e
		WHERE 1=1
	`
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.CameraID != "" {
		query += " AND e.camera_id = ?"
		args = append(args, filter.CameraID)
	}

	if filter.Object != "" {
		query += " AND e.id IN (SELECT event_id FROM event_objects WHERE object_name = ?)"
		args = append(args, filter.Object)
	}

	if !filter.After.IsZero() {
		query += " AND e.timestamp >= ?"
		args = append(args, filter.After.UnixMilli())
	}

	if !filter.Before.IsZero() {
		query += " AND e.timestamp <= ?"
		args = append(args, filter.Before.UnixMilli())
	}

	return query, args
}

// List retrieves events matching the filter, newest first.
func (r *EventRepository) List(filter *model.EventFilter) ([]model.EventRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `SELECT ` + eventColumns + where + ` ORDER BY e.timestamp DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var events []model.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan event")
		}
		events = append(events, *rec)
	}

	return events, rows.Err()
}

// Count returns the number of events matching the filter.
func (r *EventRepository) Count(filter *model.EventFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*)`+where, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count events")
	}

	return count, nil
}

// GetCameras returns a list of cameras that have recorded events.
func (r *EventRepository) GetCameras() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT camera_id FROM detection_events ORDER BY camera_id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cameras")
	}
	defer rows.Close()

	var cameras []string
	for rows.Next() {
		var camera string
		if err := rows.Scan(&camera); err != nil {
			return nil, errors.Wrap(err, "failed to scan camera")
		}
		cameras = append(cameras, camera)
	}
	return cameras, rows.Err()
}

// Delete removes an event by its row ID together with its objects.
func (r *EventRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM event_objects WHERE event_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete event objects")
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM detection_events WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete event")
	}
	return nil
}

// DeleteByCamera removes every event recorded for a camera.
func (r *EventRepository) DeleteByCamera(cameraID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`
		DELETE FROM event_objects
		WHERE event_id IN (SELECT id FROM detection_events WHERE camera_id = ?)
	`, cameraID); err != nil {
		return errors.Wrap(err, "failed to delete event objects")
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM detection_events WHERE camera_id = ?`, cameraID); err != nil {
		return errors.Wrap(err, "failed to delete events")
	}
	return nil
}
