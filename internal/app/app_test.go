package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

type fixedClassifier struct{}

func (fixedClassifier) Classify(context.Context, *codec.Image) ([]model.Candidate, error) {
	return []model.Candidate{{ClassID: 0, Label: "fall", Confidence: 0.82, Box: model.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}}}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.GRPCPort = 0
	cfg.Server.HTTPPort = 0
	cfg.Storage.Root = filepath.Join(dir, "storage")
	cfg.Storage.Database = filepath.Join(dir, "data", "events.db")
	cfg.Backend.BaseURL = ""
	cfg.Logging.Enabled = false
	cfg.Detection.SamplingInterval = 2
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApp(cfg, logger.NewNop(), fixedClassifier{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()
	if err := a.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()
	stream, err := (&channel.GRPCDialer{Address: a.GRPCAddr().String()}).Dial(dialCtx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer stream.Close()

	for i := int64(0); i < 3; i++ {
		frame := model.Frame{
			ImageBytes:  make([]byte, 2*2*3),
			Encoding:    model.EncodingRawRGB,
			Width:       2,
			Height:      2,
			TimestampMs: 1700000000000 + i,
			SourceID:    "cam-e2e",
		}
		if err := stream.Send(codec.Encode(frame)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend() error = %v", err)
	}

	var results []model.DetectionResult
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		results = append(results, codec.ResultOf(msg))
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (frames 0 and 2)", len(results))
	}
	for i, want := range []int64{1700000000000, 1700000000002} {
		if results[i].FrameTimestampMs != want || !results[i].Positive || results[i].SourceID != "cam-e2e" {
			t.Errorf("result %d = %+v", i, results[i])
		}
	}

	resp, err := http.Get("http://" + a.HTTPAddr().String() + "/api/events?camera=cam-e2e")
	if err != nil {
		t.Fatalf("GET /api/events error = %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Length int `json:"length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body.Length != 2 {
		t.Errorf("persisted events = %d, want 2", body.Length)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func TestApp_ListenFailsOnBusyPort(t *testing.T) {
	cfg := testConfig(t)
	first, err := NewApp(cfg, logger.NewNop(), fixedClassifier{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer first.Close()
	if err := first.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer first.grpcListener.Close()
	defer first.httpListener.Close()

	cfg2 := testConfig(t)
	cfg2.Server.GRPCPort = first.GRPCAddr().(*net.TCPAddr).Port
	second, err := NewApp(cfg2, logger.NewNop(), fixedClassifier{})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer second.Close()
	if err := second.Listen(); err == nil {
		t.Error("Listen() on a busy port succeeded")
	}
}
