package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

// ViewerMessage is the JSON document pushed to live viewers for every result.
type ViewerMessage struct {
	Camera         string    `json:"camera"`
	Positive       bool      `json:"positive"`
	Confidence     float64   `json:"confidence"`
	BBox           []float64 `json:"bbox,omitempty"`
	FrameTimestamp int64     `json:"frameTimestamp"`
}

// HubService fans detection results out to connected viewers. Observe never
// blocks the caller; messages are dropped while the broadcast queue is full.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	dropped    atomic.Int64
	logger     *logger.Logger
}

func NewHubService(queue int, logger *logger.Logger) *HubService {
	if queue < 1 {
		queue = 1
	}
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, queue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every viewer connection.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Error("Error sending message: %v", err)
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Register adds a viewer. After Run has returned the connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Observe queues r for every viewer.
func (h *HubService) Observe(r model.DetectionResult) {
	msg := ViewerMessage{
		Camera:         r.SourceID,
		Positive:       r.Positive,
		Confidence:     r.Confidence,
		FrameTimestamp: r.FrameTimestampMs,
	}
	if r.Box != nil {
		msg.BBox = r.Box.Slice()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal viewer message: %v", err)
		return
	}
	h.Broadcast(data)
}

// Broadcast queues a raw message without blocking.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many messages were discarded because the queue was full.
func (h *HubService) Dropped() int64 {
	return h.dropped.Load()
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
