package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

func newTestHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()
	hub := NewHubService(8, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				hub.Unregister(conn)
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return hub, server
}

func dialViewer(t *testing.T, hub *HubService, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestObserveBroadcastsResult(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, hub, server)

	hub.Observe(model.DetectionResult{
		Positive:         true,
		Confidence:       0.82,
		Box:              &model.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4},
		FrameTimestampMs: 1700000000000,
		SourceID:         "cam-1",
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("message type = %d, want text", kind)
	}

	var got ViewerMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Camera != "cam-1" || !got.Positive || got.Confidence != 0.82 || got.FrameTimestamp != 1700000000000 {
		t.Errorf("message = %+v", got)
	}
	if len(got.BBox) != 4 || got.BBox[3] != 4 {
		t.Errorf("bbox = %v, want [1 2 3 4]", got.BBox)
	}
}

func TestObserveNegativeOmitsBox(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, hub, server)

	hub.Observe(model.DetectionResult{SourceID: "cam-2", FrameTimestampMs: 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if strings.Contains(string(data), "bbox") {
		t.Errorf("negative message carries bbox: %s", data)
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(1, logger.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast([]byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
	if got := hub.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
}

func TestUnregisterRemovesViewer(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dialViewer(t, hub, server)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("GetClientCount() = %d after close, want 0", hub.GetClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
