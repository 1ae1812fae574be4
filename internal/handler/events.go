package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zpskt/keen/internal/dto"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/repository"
)

// GetEventsHandler returns a filtered, paginated list of persisted detections.
// Query parameters: camera, object, dateAfter, dateBefore (2006-01-02), page, limit.
func GetEventsHandler(storageRoot string, logger *logger.Logger,
	eventRepo repository.EventRepository, objectRepo repository.ObjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.EventFilter{
			CameraID: q.Get("camera"),
			Object:   q.Get("object"),
			After:    parseDate(q.Get("dateAfter")),
			Before:   endOfDay(parseDate(q.Get("dateBefore"))),
			Limit:    limit,
			Offset:   (page - 1) * limit,
		}

		records, err := eventRepo.List(filter)
		if err != nil {
			logger.Error("Error querying events from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := eventRepo.Count(filter)
		if err != nil {
			logger.Error("Error counting events: %v", err)
			totalCount = len(records)
		}

		events := make([]dto.EventInfo, 0, len(records))
		for _, rec := range records {
			var objects []string
			if objectRepo != nil {
				counts, err := objectRepo.GetByEventID(rec.ID)
				if err != nil {
					logger.Error("Error getting objects for event %d: %v", rec.ID, err)
				}
				for name := range counts {
					objects = append(objects, name)
				}
				sort.Strings(objects)
			}

			at := time.UnixMilli(rec.Timestamp)
			events = append(events, dto.EventInfo{
				ID:         rec.ID,
				EventID:    rec.EventID,
				Camera:     rec.CameraID,
				Confidence: rec.Confidence,
				BBox:       rec.BBox,
				Image:      relativeImage(storageRoot, rec.ImagePath),
				Date:       at,
				TimeOfDay:  at,
				Objects:    objects,
			})
		}

		data := dto.EventsData{
			Events:      events,
			StorageDir:  storageRoot,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}
		writeJSON(w, logger, data)
	}
}

// GetFiltersHandler lists known cameras and object labels.
func GetFiltersHandler(logger *logger.Logger, eventRepo repository.EventRepository, objectRepo repository.ObjectRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cameras, err := eventRepo.GetCameras()
		if err != nil {
			logger.Error("Error listing cameras: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		objects, err := objectRepo.GetAllObjectNames()
		if err != nil {
			logger.Error("Error listing object names: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, dto.FiltersData{Cameras: cameras, Objects: objects})
	}
}

// DeleteEventHandler removes an event's snapshot from disk and its row from
// the database. The event is selected by the "id" query parameter.
func DeleteEventHandler(logger *logger.Logger, eventRepo repository.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "Event id required", http.StatusBadRequest)
			return
		}

		rec, err := eventRepo.GetByID(id)
		if err != nil {
			logger.Error("Failed to load event %d: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.NotFound(w, r)
			return
		}

		if err := os.Remove(rec.ImagePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete file %s: %v", rec.ImagePath, err)
		}
		if err := eventRepo.Delete(id); err != nil {
			logger.Error("Failed to delete from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted event %s", rec.EventID)
		writeJSON(w, logger, map[string]string{"status": "deleted", "eventId": rec.EventID})
	}
}

// ViewSnapshotHandler serves a stored snapshot named by the "image" query
// parameter, relative to the storage root.
func ViewSnapshotHandler(storageRoot string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if image == "" {
			http.Error(w, "Image parameter is required", http.StatusBadRequest)
			return
		}
		filePath := filepath.Join(storageRoot, filepath.Clean("/"+image))
		http.ServeFile(w, r, filePath)
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

func relativeImage(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// endOfDay makes a date bound inclusive of the whole day.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Millisecond)
}
