package events

import (
	"context"
	"strings"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

// LogListener writes one structured record per event.
type LogListener struct {
	logger *logger.Logger
}

func NewLogListener(log *logger.Logger) *LogListener {
	return &LogListener{logger: log}
}

func (l *LogListener) Name() string { return "log" }

func (l *LogListener) Deliver(_ context.Context, ev model.DetectionEvent) error {
	l.logger.With(
		"event_id", ev.ID,
		"source", ev.SourceID,
		"confidence", ev.Confidence,
		"frame_timestamp", ev.FrameTimestampMs,
	).Info("Detection event: [%s] on %s (%.2f)", strings.Join(ev.Objects, ", "), ev.SourceID, ev.Confidence)
	return nil
}
