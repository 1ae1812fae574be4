package sqlite

import (
	"database/sql"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detection_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		camera_id TEXT NOT NULL,
		confidence REAL DEFAULT 0,
		bbox TEXT NOT NULL DEFAULT '[]',
		image_path TEXT NOT NULL,
		image_size INTEGER DEFAULT 0,
		timestamp INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (camera_id, timestamp)
	);

	CREATE TABLE IF NOT EXISTS event_objects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL,
		object_name TEXT NOT NULL,
		count INTEGER DEFAULT 1,
		FOREIGN KEY (event_id) REFERENCES detection_events(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_events_camera ON detection_events(camera_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON detection_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_objects_name ON event_objects(object_name);
	CREATE INDEX IF NOT EXISTS idx_objects_event_id ON event_objects(event_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}
