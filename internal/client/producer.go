// Package client drives a frame source into a detection channel and reacts
// to the results the server sends back.
package client

import (
	"context"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/source"
	"github.com/zpskt/keen/internal/wire"
)

// Alarm is the local actuator fired for positive results.
type Alarm interface {
	Trigger(sourceID string, confidence float64)
}

// LogAlarm only logs. Device actuation plugs in through Alarm.
type LogAlarm struct {
	Logger *logger.Logger
}

func (a LogAlarm) Trigger(sourceID string, confidence float64) {
	a.Logger.Warning("ALARM: detection on camera %s, confidence %.2f", sourceID, confidence)
}

// Producer streams frames from one source over one channel at a time. A
// failing source is reopened and a failing channel is redialed, each with its
// own backoff, until the context ends or the source is exhausted.
type Producer struct {
	source        source.Source
	dialer        channel.Dialer
	alarm         Alarm
	sourceBackoff *Backoff
	dialBackoff   *Backoff
	sendBuffer    int
	logger        *logger.Logger
}

func NewProducer(src source.Source, dialer channel.Dialer, alarm Alarm, cfg config.ClientConfig, clk clock.Clock, log *logger.Logger) *Producer {
	return &Producer{
		source:        src,
		dialer:        dialer,
		alarm:         alarm,
		sourceBackoff: NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, clk),
		dialBackoff:   NewBackoff(cfg.InitialBackoff, cfg.MaxBackoff, clk),
		sendBuffer:    cfg.SendBuffer,
		logger:        log,
	}
}

// Run returns nil once the source reports io.EOF and the server has
// delivered every result, or ctx.Err() when cancelled.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.source.Open(ctx); err != nil {
		p.logger.Warning("Failed to open frame source: %v", err)
		if err := p.reopenSource(ctx); err != nil {
			return err
		}
	}
	defer p.source.Close()

	for {
		err := p.session(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Warning("Stream session ended: %v", err)
		delay, werr := p.dialBackoff.Wait(ctx)
		if werr != nil {
			return werr
		}
		p.logger.Info("Reconnecting after %s", delay)
	}
}

// session runs one channel connection until the source is exhausted (nil)
// or the channel fails.
func (p *Producer) session(ctx context.Context) error {
	stream, err := p.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	p.dialBackoff.Reset()
	p.logger.Info("Connected to detection server")

	outbox := channel.NewOutbox[*wire.VideoFrame](p.sendBuffer, stream.Send)
	var recvErr error
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		recvErr = p.receive(stream)
	}()
	defer func() {
		stream.Close()
		outbox.Close()
		<-recvDone
	}()

	for {
		frame, err := p.source.Read(ctx)
		switch {
		case err == io.EOF:
			return p.finish(stream, outbox, recvDone, &recvErr)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warning("Frame source read failed: %v", err)
			if err := p.reopenSource(ctx); err != nil {
				return err
			}
			continue
		}
		p.sourceBackoff.Reset()

		if err := outbox.Push(ctx, codec.Encode(frame)); err != nil {
			return errors.Wrap(err, "failed to send frame")
		}

		select {
		case <-recvDone:
			if recvErr == io.EOF {
				return errors.New("server closed the stream")
			}
			return recvErr
		default:
		}
	}
}

// finish flushes queued frames, half-closes and waits for the remaining results.
func (p *Producer) finish(stream channel.ClientStream, outbox *channel.Outbox[*wire.VideoFrame], recvDone <-chan struct{}, recvErr *error) error {
	if err := outbox.Close(); err != nil {
		return errors.Wrap(err, "failed to send frame")
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	<-recvDone
	if *recvErr == io.EOF {
		p.logger.Info("Frame source exhausted, stream closed")
		return nil
	}
	return *recvErr
}

// reopenSource closes the source and retries Open with backoff until it
// succeeds or ctx ends.
func (p *Producer) reopenSource(ctx context.Context) error {
	for {
		p.source.Close()
		delay, err := p.sourceBackoff.Wait(ctx)
		if err != nil {
			return err
		}
		if err := p.source.Open(ctx); err != nil {
			p.logger.Warning("Reopening frame source after %s failed: %v", delay, err)
			continue
		}
		p.logger.Info("Frame source reopened after %s", delay)
		return nil
	}
}

func (p *Producer) receive(stream channel.ClientStream) error {
	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		r := codec.ResultOf(msg)
		if r.Positive {
			p.alarm.Trigger(r.SourceID, r.Confidence)
		}
	}
}
