package events

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/model"
)

// CallbackListener POSTs each event as JSON to an external endpoint. Failed
// calls are not retried.
type CallbackListener struct {
	endpoint string
	client   *http.Client
}

func NewCallbackListener(s config.CallbackSettings) (*CallbackListener, error) {
	if s.Endpoint == "" {
		return nil, errors.Wrap(ErrUnavailable, "callback: no endpoint configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CallbackListener{endpoint: s.Endpoint, client: &http.Client{Timeout: timeout}}, nil
}

func (c *CallbackListener) Name() string { return "http_callback" }

func (c *CallbackListener) Deliver(ctx context.Context, ev model.DetectionEvent) error {
	body, err := marshalEvent(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "callback request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}
