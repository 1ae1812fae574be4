package handler

import (
	"net/http"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/service"
)

// StreamServer runs one detection session over a channel stream.
type StreamServer interface {
	Serve(stream channel.ServerStream) error
}

// CameraStreamHandler accepts camera sessions over WebSocket. The optional
// "sampling-mode" query parameter selects interactive sampling. Messages larger
// than maxFrameBytes end the session.
func CameraStreamHandler(server StreamServer, maxFrameBytes int, logger *logger.Logger) http.HandlerFunc {
	ws := &channel.WebSocketHandler{
		Upgrader:      Upgrader,
		MaxFrameBytes: maxFrameBytes,
		Serve: func(stream channel.ServerStream) error {
			err := server.Serve(stream)
			if err != nil {
				logger.Warning("Camera stream ended: %v", err)
			}
			return err
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		camera := r.URL.Query().Get("id")
		mode := service.SamplingMode(r.URL.Query().Get(service.SamplingModeKey))
		if mode == service.ModeInteractive {
			r = r.WithContext(service.WithSamplingMode(r.Context(), mode))
		}
		logger.Info("Camera connected: %s (%s)", camera, r.RemoteAddr)
		ws.ServeHTTP(w, r)
	}
}
