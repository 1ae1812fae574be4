package sqlite

import (
	"github.com/pkg/errors"
)

// ObjectRepository implements repository.ObjectRepository for SQLite.
type ObjectRepository struct {
	db *DB
}

// NewObjectRepository creates a new SQLite object repository.
func NewObjectRepository(db *DB) *ObjectRepository {
	return &ObjectRepository{db: db}
}

// InsertBatch stores the object counts of one event in a single transaction.
func (r *ObjectRepository) InsertBatch(eventID int64, objects map[string]int) error {
	if len(objects) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO event_objects (event_id, object_name, count) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for name, count := range objects {
		if _, err := stmt.Exec(eventID, name, count); err != nil {
			return errors.Wrap(err, "failed to insert object")
		}
	}

	return tx.Commit()
}

// GetByEventID returns the object counts recorded with an event.
func (r *ObjectRepository) GetByEventID(eventID int64) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT object_name, count FROM event_objects WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query objects")
	}
	defer rows.Close()

	objects := make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan object")
		}
		objects[name] += count
	}

	return objects, rows.Err()
}

// GetAllObjectNames returns a list of all unique detected object names.
func (r *ObjectRepository) GetAllObjectNames() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT object_name FROM event_objects ORDER BY object_name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query objects")
	}
	defer rows.Close()

	var objects []string
	for rows.Next() {
		var obj string
		if err := rows.Scan(&obj); err != nil {
			return nil, errors.Wrap(err, "failed to scan object")
		}
		objects = append(objects, obj)
	}

	return objects, rows.Err()
}
