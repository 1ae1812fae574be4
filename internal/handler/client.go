package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zpskt/keen/internal/logger"
	viewers "github.com/zpskt/keen/internal/service/websocket"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	viewerReadTimeout = 60 * time.Second
	viewerWriteWait   = 10 * time.Second
)

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the hub to receive every detection result.
func ViewWebsocketHandler(hub *viewers.HubService, logger *logger.Logger) http.HandlerFunc {
	return viewerHandler(hub, logger, viewerReadTimeout)
}

// viewerHandler pings each viewer at 9/10 of readTimeout; a viewer that answers
// neither pings nor sends anything within readTimeout is dropped.
func viewerHandler(hub *viewers.HubService, logger *logger.Logger, readTimeout time.Duration) http.HandlerFunc {
	pingPeriod := readTimeout * 9 / 10
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(readTimeout))
		connection.SetPongHandler(func(string) error {
			return connection.SetReadDeadline(time.Now().Add(readTimeout))
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(viewerWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		for {
			_, _, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected: %v", err)
				}
				return
			}
			connection.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
}
