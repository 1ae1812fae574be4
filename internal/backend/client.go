// Package backend talks to the management backend that stores escalated
// detections and their snapshots.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/model"
)

const (
	detectionsPath = "/api/detections"
	eventsPath     = "/api/events"
)

// Client posts detections and event records to the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type detectionBody struct {
	CameraID       string    `json:"cameraId"`
	IsFall         bool      `json:"isFall"`
	Confidence     float64   `json:"confidence"`
	BBox           []float64 `json:"bbox"`
	FrameTimestamp int64     `json:"frameTimestamp"`
}

type eventBody struct {
	CameraID   string    `json:"cameraId"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	ImagePath  string    `json:"imagePath"`
	Timestamp  int64     `json:"timestamp"`
}

// SendDetectionResult notifies the backend of an escalated detection.
func (c *Client) SendDetectionResult(ctx context.Context, r model.DetectionResult) error {
	body := detectionBody{
		CameraID:       r.SourceID,
		IsFall:         r.Positive,
		Confidence:     r.Confidence,
		BBox:           []float64{},
		FrameTimestamp: r.FrameTimestampMs,
	}
	if r.Box != nil {
		body.BBox = r.Box.Slice()
	}
	return c.post(ctx, detectionsPath, body)
}

// SaveEvent stores the event record of a persisted snapshot.
func (c *Client) SaveEvent(ctx context.Context, rec model.EventRecord) error {
	body := eventBody{
		CameraID:   rec.CameraID,
		Confidence: rec.Confidence,
		BBox:       rec.BBox,
		ImagePath:  rec.ImagePath,
		Timestamp:  rec.Timestamp,
	}
	if body.BBox == nil {
		body.BBox = []float64{}
	}
	return c.post(ctx, eventsPath, body)
}

func (c *Client) post(ctx context.Context, path string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
