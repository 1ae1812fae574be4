// Package events fans detection events out to the configured alert sinks.
package events

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
)

// Listener is one alert sink.
type Listener interface {
	Name() string
	Deliver(ctx context.Context, ev model.DetectionEvent) error
}

// ListenerError records one sink failing to take an event. It is logged by
// the Bus and never returned from Publish.
type ListenerError struct {
	Listener string
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s: %v", e.Listener, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

// Bus holds an ordered, fixed set of listeners.
type Bus struct {
	listeners []Listener
	logger    *logger.Logger
}

// NewBus returns a Bus delivering to listeners in the given order.
func NewBus(log *logger.Logger, listeners ...Listener) *Bus {
	return &Bus{listeners: listeners, logger: log}
}

// Names lists the registered listeners in delivery order.
func (b *Bus) Names() []string {
	names := make([]string, len(b.listeners))
	for i, l := range b.listeners {
		names[i] = l.Name()
	}
	return names
}

// Publish delivers ev to every listener in registration order. A listener
// that fails or panics is logged and skipped; the rest still run.
func (b *Bus) Publish(ctx context.Context, ev model.DetectionEvent) {
	for _, l := range b.listeners {
		if err := b.deliver(ctx, l, ev); err != nil {
			b.logger.Error("%v", err)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, ev model.DetectionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ListenerError{Listener: l.Name(), Err: errors.Errorf("panic: %v", r)}
		}
	}()
	if err := l.Deliver(ctx, ev); err != nil {
		return &ListenerError{Listener: l.Name(), Err: err}
	}
	return nil
}

// Close releases listeners that hold connections.
func (b *Bus) Close() error {
	var err error
	for _, l := range b.listeners {
		if c, ok := l.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
