// Package channel carries frames from a camera client to the detection server
// and results back, over gRPC or WebSocket. The two directions are
// independent: a client may keep sending while results are in flight, and the
// server may keep sending results after the client half-closes.
package channel

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/wire"
)

// ServerStream is the server side of one session.
type ServerStream interface {
	Context() context.Context
	// Recv returns io.EOF once the client has half-closed.
	Recv() (*wire.VideoFrame, error)
	Send(*wire.DetectionResult) error
}

// ClientStream is the client side of one session.
type ClientStream interface {
	Send(*wire.VideoFrame) error
	// CloseSend half-closes the frame direction; results keep arriving.
	CloseSend() error
	// Recv returns io.EOF once the server has finished sending results.
	Recv() (*wire.DetectionResult, error)
	// Close releases the underlying connection.
	Close() error
}

// Dialer opens client sessions.
type Dialer interface {
	Dial(ctx context.Context) (ClientStream, error)
}

// Error reports a transport failure. Normal end of stream is reported as
// io.EOF instead.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "channel " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsChannelError reports whether err is, or wraps, a transport failure.
func IsChannelError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// wrap tags err as a transport failure. io.EOF passes through.
func wrap(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Outbox is a bounded send queue drained by its own goroutine so the producer
// of items never blocks on the network unless the queue is full.
type Outbox[T any] struct {
	queue     chan T
	send      func(T) error
	failed    chan struct{}
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// NewOutbox starts draining into send. Items are sent in Push order.
func NewOutbox[T any](size int, send func(T) error) *Outbox[T] {
	if size < 1 {
		size = 1
	}
	o := &Outbox[T]{
		queue:  make(chan T, size),
		send:   send,
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox[T]) run() {
	defer close(o.done)
	for item := range o.queue {
		if err := o.send(item); err != nil {
			o.err = err
			close(o.failed)
			return
		}
	}
}

// Push queues item, blocking while the queue is full. It returns the send
// error once the drain goroutine has failed. Push must not be called after Close.
func (o *Outbox[T]) Push(ctx context.Context, item T) error {
	select {
	case <-o.failed:
		return o.err
	default:
	}
	select {
	case o.queue <- item:
		return nil
	case <-o.failed:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for every queued item to be sent and returns the first send error.
func (o *Outbox[T]) Close() error {
	o.closeOnce.Do(func() { close(o.queue) })
	<-o.done
	return o.err
}
