package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/repository"
)

var (
	_ repository.EventRepository  = (*EventRepository)(nil)
	_ repository.ObjectRepository = (*ObjectRepository)(nil)
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newRecord(camera string, ts int64) *model.EventRecord {
	return &model.EventRecord{
		EventID:    fmt.Sprintf("%s-%d", camera, ts),
		CameraID:   camera,
		Confidence: 0.82,
		BBox:       []float64{10, 20, 110, 220},
		ImagePath:  fmt.Sprintf("/storage/%s/%d.jpg", camera, ts),
		ImageSize:  2048,
		Timestamp:  ts,
	}
}

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestEventRepository_InsertAndGet(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	id, err := repo.Insert(newRecord("cam1", 1700000000000))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id <= 0 {
		t.Errorf("Expected positive ID, got %d", id)
	}

	rec, err := repo.GetByID(id)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected record, got nil")
	}
	if rec.CameraID != "cam1" || rec.Timestamp != 1700000000000 || rec.Confidence != 0.82 {
		t.Errorf("Unexpected record %+v", rec)
	}
	if len(rec.BBox) != 4 || rec.BBox[3] != 220 {
		t.Errorf("BBox not preserved: %v", rec.BBox)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	byEvent, err := repo.GetByEventID("cam1-1700000000000")
	if err != nil || byEvent == nil || byEvent.ID != id {
		t.Errorf("GetByEventID returned %+v, %v", byEvent, err)
	}
}

func TestEventRepository_GetByID_NotFound(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	rec, err := repo.GetByID(99999)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rec != nil {
		t.Error("Expected nil for non-existent ID")
	}
}

func TestEventRepository_DuplicateCameraTimestamp(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	if _, err := repo.Insert(newRecord("cam1", 100)); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	dup := newRecord("cam1", 100)
	dup.EventID = "other"
	if _, err := repo.Insert(dup); err == nil {
		t.Error("Expected error for duplicate camera/timestamp")
	}

	exists, err := repo.Exists("cam1", 100)
	if err != nil || !exists {
		t.Errorf("Expected event to exist, got %v, %v", exists, err)
	}
	exists, err = repo.Exists("cam1", 101)
	if err != nil || exists {
		t.Errorf("Expected no event, got %v, %v", exists, err)
	}
}

func TestEventRepository_ListAndCount(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepository(db)
	objects := NewObjectRepository(db)

	for i, camera := range []string{"cam1", "cam1", "cam2", "cam1"} {
		id, err := events.Insert(newRecord(camera, int64(1000*(i+1))))
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if camera == "cam2" {
			if err := objects.InsertBatch(id, map[string]int{"person": 2}); err != nil {
				t.Fatalf("InsertBatch failed: %v", err)
			}
		}
	}

	tests := []struct {
		name   string
		filter *model.EventFilter
		want   int
	}{
		{"all", &model.EventFilter{}, 4},
		{"nil filter", nil, 4},
		{"by camera", &model.EventFilter{CameraID: "cam1"}, 3},
		{"by object", &model.EventFilter{Object: "person"}, 1},
		{"after", &model.EventFilter{After: time.UnixMilli(2500)}, 2},
		{"before", &model.EventFilter{Before: time.UnixMilli(2000)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := events.Count(tt.filter)
			if err != nil {
				t.Fatalf("Count failed: %v", err)
			}
			if count != tt.want {
				t.Errorf("Expected count %d, got %d", tt.want, count)
			}
			list, err := events.List(tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != tt.want {
				t.Errorf("Expected %d events, got %d", tt.want, len(list))
			}
		})
	}

	page, err := events.List(&model.EventFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 2 || page[0].Timestamp != 3000 || page[1].Timestamp != 2000 {
		t.Errorf("Unexpected page %+v", page)
	}

	cameras, err := events.GetCameras()
	if err != nil || len(cameras) != 2 || cameras[0] != "cam1" {
		t.Errorf("Unexpected cameras %v, %v", cameras, err)
	}
}

func TestEventRepository_DeleteByCamera(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepository(db)
	objects := NewObjectRepository(db)

	id, _ := events.Insert(newRecord("cam1", 1))
	events.Insert(newRecord("cam2", 2))
	if err := objects.InsertBatch(id, map[string]int{"fall": 1}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	if err := events.DeleteByCamera("cam1"); err != nil {
		t.Fatalf("DeleteByCamera failed: %v", err)
	}

	count, _ := events.Count(nil)
	if count != 1 {
		t.Errorf("Expected 1 event left, got %d", count)
	}
	names, _ := objects.GetAllObjectNames()
	if len(names) != 0 {
		t.Errorf("Expected objects to be deleted with their event, got %v", names)
	}
}

func TestEventRepository_Delete(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	id, _ := repo.Insert(newRecord("cam1", 1))
	if err := repo.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	rec, _ := repo.GetByID(id)
	if rec != nil {
		t.Error("Event should be deleted")
	}
}

func TestObjectRepository(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventRepository(db)
	objects := NewObjectRepository(db)

	id, _ := events.Insert(newRecord("cam1", 1))
	if err := objects.InsertBatch(id, map[string]int{"fall": 1, "person": 3}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if err := objects.InsertBatch(id, nil); err != nil {
		t.Errorf("Empty batch should be a no-op, got %v", err)
	}

	got, err := objects.GetByEventID(id)
	if err != nil {
		t.Fatalf("GetByEventID failed: %v", err)
	}
	if got["fall"] != 1 || got["person"] != 3 {
		t.Errorf("Unexpected objects %v", got)
	}

	names, err := objects.GetAllObjectNames()
	if err != nil || len(names) != 2 || names[0] != "fall" {
		t.Errorf("Unexpected names %v, %v", names, err)
	}
}

func TestDatabase_ConcurrentAccess(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(idx int) {
			if _, err := repo.Insert(newRecord("cam1", int64(idx))); err != nil {
				t.Errorf("Concurrent insert %d failed: %v", idx, err)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	count, _ := repo.Count(&model.EventFilter{})
	if count != 10 {
		t.Errorf("Expected 10 events, got %d", count)
	}
}
