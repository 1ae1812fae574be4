package storage

import (
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/repository"
)

// MigrateStats summarizes an index run.
type MigrateStats struct {
	Inserted int
	Existing int
	Skipped  int
}

// ParseSnapshotPath extracts the camera and timestamp from a path of the form
// <camera>/<unix-ms>.jpg relative to the storage root.
func ParseSnapshotPath(rel string) (camera string, timestamp int64, err error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || filepath.Ext(parts[1]) != ".jpg" {
		return "", 0, errors.Errorf("invalid snapshot path: %s", rel)
	}
	timestamp, err = strconv.ParseInt(strings.TrimSuffix(parts[1], ".jpg"), 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "failed to parse timestamp of %s", rel)
	}
	return parts[0], timestamp, nil
}

// Migrate indexes snapshot files under root that have no event row yet. The
// detection confidence and box of such files are unknown and stored as zero.
func Migrate(root string, events repository.EventRepository, log *logger.Logger) (MigrateStats, error) {
	var stats MigrateStats
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".jpg" {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		camera, timestamp, err := ParseSnapshotPath(rel)
		if err != nil {
			log.Warning("Skipping %s: %v", rel, err)
			stats.Skipped++
			return nil
		}

		exists, err := events.Exists(camera, timestamp)
		if err != nil {
			return err
		}
		if exists {
			stats.Existing++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warning("Failed to get info for %s: %v", rel, err)
			stats.Skipped++
			return nil
		}

		if _, err := events.Insert(&model.EventRecord{
			EventID:   uuid.NewString(),
			CameraID:  camera,
			ImagePath: path,
			ImageSize: info.Size(),
			Timestamp: timestamp,
		}); err != nil {
			return err
		}
		stats.Inserted++
		return nil
	})
	if err != nil {
		return stats, errors.Wrap(err, "migration failed")
	}
	return stats, nil
}
