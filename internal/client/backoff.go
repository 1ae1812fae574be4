package client

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Backoff produces capped doubling delays: Initial, 2*Initial, 4*Initial, ...
// never exceeding Max. It is not safe for concurrent use.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Clock   clock.Clock

	attempt int
}

func NewBackoff(initial, max time.Duration, clk clock.Clock) *Backoff {
	if clk == nil {
		clk = clock.New()
	}
	return &Backoff{Initial: initial, Max: max, Clock: clk}
}

// Next returns the delay for the upcoming retry and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Initial
	for i := 0; i < b.attempt && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	b.attempt++
	return delay
}

// Reset starts the sequence over, after a successful attempt.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait sleeps for Next() on the backoff clock. It returns the delay it waited,
// or ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	delay := b.Next()
	timer := b.Clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return delay, ctx.Err()
	case <-timer.C:
		return delay, nil
	}
}
