package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/repository"
)

// ErrPersistence marks a failed snapshot write, database insert or backend
// call. The detection itself is never rolled back.
var ErrPersistence = errors.New("persistence failure")

// EventSaver stores event records remotely.
type EventSaver interface {
	SaveEvent(ctx context.Context, rec model.EventRecord) error
}

// Annotator draws a detection box onto a JPEG snapshot.
type Annotator interface {
	Annotate(jpeg []byte, box model.BBox, label string) ([]byte, error)
}

// SnapshotStore writes escalated detections to <root>/<camera>/<timestamp>.jpg,
// records them locally and forwards the record to the backend.
type SnapshotStore struct {
	root      string
	quality   int
	events    repository.EventRepository
	objects   repository.ObjectRepository
	saver     EventSaver
	annotator Annotator
	logger    *logger.Logger
}

// NewSnapshotStore creates a store. Any of the repositories, the saver and
// the annotator may be nil to skip that step.
func NewSnapshotStore(cfg config.StorageConfig, log *logger.Logger, events repository.EventRepository, objects repository.ObjectRepository, saver EventSaver) *SnapshotStore {
	quality := cfg.Quality
	if quality <= 0 {
		quality = 90
	}
	return &SnapshotStore{
		root:    cfg.Root,
		quality: quality,
		events:  events,
		objects: objects,
		saver:   saver,
		logger:  log,
	}
}

// WithAnnotator makes persisted snapshots carry the detection box.
func (s *SnapshotStore) WithAnnotator(a Annotator) *SnapshotStore {
	s.annotator = a
	return s
}

// Path returns where the snapshot of a camera frame is written. The camera id
// contributes a single path element; ids that name no directory map to
// "unknown".
func (s *SnapshotStore) Path(cameraID string, timestamp int64) string {
	return filepath.Join(s.root, cameraDir(cameraID), strconv.FormatInt(timestamp, 10)+".jpg")
}

func cameraDir(cameraID string) string {
	name := filepath.Base(cameraID)
	switch name {
	case ".", "..", string(filepath.Separator):
		return "unknown"
	}
	return name
}

func (s *SnapshotStore) underRoot(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Persist stores snap. The image file is required; database and backend
// failures are collected and reported together, after every step has run.
func (s *SnapshotStore) Persist(ctx context.Context, snap model.Snapshot) (*model.EventRecord, error) {
	data, err := codec.JPEGBytes(snap.Frame, s.quality)
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "encode snapshot: %v", err)
	}

	if s.annotator != nil && snap.Result.Box != nil {
		annotated, err := s.annotator.Annotate(data, *snap.Result.Box, fmt.Sprintf("%.2f", snap.Result.Confidence))
		if err != nil {
			s.logger.Warning("Failed to annotate snapshot for %s: %v", snap.Result.SourceID, err)
		} else {
			data = annotated
		}
	}

	path := s.Path(snap.Result.SourceID, snap.Result.FrameTimestampMs)
	if !s.underRoot(path) {
		return nil, errors.Wrapf(ErrPersistence, "snapshot path %s escapes %s", path, s.root)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(ErrPersistence, "create directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, errors.Wrapf(ErrPersistence, "write snapshot: %v", err)
	}

	rec := model.EventRecord{
		EventID:    snap.EventID,
		CameraID:   snap.Result.SourceID,
		Confidence: snap.Result.Confidence,
		BBox:       []float64{},
		ImagePath:  path,
		Timestamp:  snap.Result.FrameTimestampMs,
		ImageSize:  int64(len(data)),
	}
	if snap.Result.Box != nil {
		rec.BBox = snap.Result.Box.Slice()
	}

	var errs error
	if s.events != nil {
		id, err := s.events.Insert(&rec)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			rec.ID = id
			if s.objects != nil {
				errs = multierr.Append(errs, s.objects.InsertBatch(id, snap.Objects))
			}
		}
	}
	if s.saver != nil {
		errs = multierr.Append(errs, s.saver.SaveEvent(ctx, rec))
	}

	if errs != nil {
		return &rec, errors.Wrapf(ErrPersistence, "%v", errs)
	}
	s.logger.Info("Saved snapshot %s (%d bytes)", path, len(data))
	return &rec, nil
}
