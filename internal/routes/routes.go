package routes

import (
	"net/http"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/handler"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/middleware"
	"github.com/zpskt/keen/internal/repository"
	"github.com/zpskt/keen/internal/service/websocket"
)

// Detection is what the HTTP surface needs from the detection service.
type Detection interface {
	handler.StreamServer
	handler.SessionLister
}

// SetupRoutes registers the camera stream, viewer, event and log endpoints
// and wraps the mux with the token middleware.
func SetupRoutes(cfg *config.Config, log *logger.Logger, detection Detection, hub *websocket.HubService,
	eventRepo repository.EventRepository, objectRepo repository.ObjectRepository) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// Streaming endpoints
	mux.HandleFunc("/api/stream", handler.CameraStreamHandler(detection, cfg.Server.MaxFrameBytes, log))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, log))
	mux.HandleFunc("/api/sessions", handler.SessionsHandler(detection, log))

	// Event endpoints
	mux.HandleFunc("/api/events", handler.GetEventsHandler(cfg.Storage.Root, log, eventRepo, objectRepo))
	mux.HandleFunc("/api/events/filters", handler.GetFiltersHandler(log, eventRepo, objectRepo))
	mux.HandleFunc("/api/events/delete", handler.DeleteEventHandler(log, eventRepo))
	mux.HandleFunc("/api/events/view", handler.ViewSnapshotHandler(cfg.Storage.Root))

	// Log endpoints
	for level, file := range map[string]string{
		"info":    logger.InfoFile,
		"warning": logger.WarningFile,
		"error":   logger.ErrorFile,
	} {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(log, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(log, file))
	}

	return middleware.TokenMiddleware(cfg.Server.APIToken, mux)
}
