// Package service runs detection sessions: frames in, results out, with
// positive detections fanned out to the event bus and escalated ones persisted.
package service

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/engine"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/wire"
)

// ErrPoolExhausted is returned when every session slot is taken. New
// sessions are rejected, never queued.
var ErrPoolExhausted = errors.New("session pool exhausted")

// Publisher receives positive detection events.
type Publisher interface {
	Publish(ctx context.Context, ev model.DetectionEvent)
}

// Persister stores snapshots of escalated detections.
type Persister interface {
	Persist(ctx context.Context, snap model.Snapshot) (*model.EventRecord, error)
}

// Notifier tells an external system about escalated detections.
type Notifier interface {
	SendDetectionResult(ctx context.Context, r model.DetectionResult) error
}

// Observer sees every result a session emits, e.g. live viewers.
type Observer interface {
	Observe(r model.DetectionResult)
}

// Options configures a DetectionService. Bus, Persister, Notifier and
// Observers are optional.
type Options struct {
	Engine              *engine.Engine
	Bus                 Publisher
	Persister           Persister
	Notifier            Notifier
	Observers           []Observer
	Logger              *logger.Logger
	Clock               clock.Clock
	SamplingInterval    int
	InteractiveInterval int
	MaxSessions         int
	ResultBuffer        int

	// OnState is called on every session state change.
	OnState func(sessionID string, st State)
}

// DetectionService implements channel.DetectionServer.
type DetectionService struct {
	opts     Options
	logger   *logger.Logger
	clock    clock.Clock
	pool     *semaphore.Weighted
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewDetectionService(opts Options) *DetectionService {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	if opts.ResultBuffer < 1 {
		opts.ResultBuffer = 16
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &DetectionService{
		opts:     opts,
		logger:   opts.Logger,
		clock:    opts.Clock,
		pool:     semaphore.NewWeighted(int64(opts.MaxSessions)),
		sessions: make(map[string]*session),
	}
}

// StreamDetection serves one gRPC session.
func (s *DetectionService) StreamDetection(stream channel.ServerStream) error {
	err := s.Serve(stream)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPoolExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case channel.IsChannelError(err):
		if st, ok := status.FromError(err); ok {
			return st.Err()
		}
		return status.Error(codes.Unavailable, err.Error())
	default:
		return err
	}
}

// Serve runs one session until the client half-closes or the transport
// fails. Every result queued for the client is flushed before it returns.
func (s *DetectionService) Serve(stream channel.ServerStream) error {
	if !s.pool.TryAcquire(1) {
		s.logger.Warning("Rejecting session: %d sessions already active", s.opts.MaxSessions)
		return ErrPoolExhausted
	}
	defer s.pool.Release(1)

	interval := s.opts.SamplingInterval
	if SamplingModeFrom(stream.Context()) == ModeInteractive && s.opts.InteractiveInterval > 0 {
		interval = s.opts.InteractiveInterval
	}

	sess := &session{
		id:      uuid.NewString(),
		svc:     s,
		stream:  stream,
		sampler: engine.Sampler{Interval: interval},
	}
	sess.logger = s.logger.With("session", sess.id)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	}()

	sess.logger.Info("Session started, scoring every %d frame(s)", interval)
	return sess.run()
}

// SessionInfo describes an active session.
type SessionInfo struct {
	ID       string `json:"id"`
	SourceID string `json:"source"`
	State    string `json:"state"`
	Frames   int64  `json:"frames"`
	Scored   int64  `json:"scored"`
}

// Sessions lists the active sessions.
func (s *DetectionService) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.info())
	}
	return infos
}

// SingleDetection scores one frame regardless of sampling. It has no side
// effects beyond observers; an empty frame is answered without inference.
func (s *DetectionService) SingleDetection(ctx context.Context, msg *wire.VideoFrame) (*wire.DetectionResult, error) {
	frame := codec.FrameOf(msg)
	if frame.Empty() {
		return codec.EncodeResult(model.DetectionResult{FrameTimestampMs: frame.TimestampMs, SourceID: frame.SourceID}), nil
	}

	decoded, err := codec.Decode(msg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	decision, err := s.opts.Engine.Score(ctx, decoded.Image)
	if err != nil {
		s.logger.Error("Single detection for %s failed, reporting negative: %v", frame.SourceID, err)
		decision = engine.Decision{}
	}

	result := decision.Result(decoded.Frame)
	s.observe(result)
	return codec.EncodeResult(result), nil
}

func (s *DetectionService) observe(r model.DetectionResult) {
	for _, o := range s.opts.Observers {
		o.Observe(r)
	}
}

// handlePositive fans a positive result out. It runs detached from the
// session context so a client disconnect does not cut persistence short.
func (s *DetectionService) handlePositive(ctx context.Context, log *logger.Logger, d engine.Decision, frame model.Frame, result model.DetectionResult) {
	ctx = context.WithoutCancel(ctx)

	ev := model.DetectionEvent{
		ID:               uuid.NewString(),
		Objects:          d.ObjectNames(),
		Confidence:       result.Confidence,
		Box:              result.Box,
		SourceID:         result.SourceID,
		FrameTimestampMs: result.FrameTimestampMs,
		OccurredAt:       s.clock.Now(),
	}
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ctx, ev)
	}

	if !s.opts.Engine.Escalate(d) {
		return
	}
	log.Warning("Escalated detection on %s at %d (%.2f)", result.SourceID, result.FrameTimestampMs, result.Confidence)

	if s.opts.Persister != nil {
		snap := model.Snapshot{EventID: ev.ID, Result: result, Frame: frame, Objects: d.Objects}
		if _, err := s.opts.Persister.Persist(ctx, snap); err != nil {
			log.Error("Persisting snapshot failed: %v", err)
		}
	}
	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.SendDetectionResult(ctx, result); err != nil {
			log.Error("Backend notification failed: %v", err)
		}
	}
}

type session struct {
	id      string
	svc     *DetectionService
	stream  channel.ServerStream
	sampler engine.Sampler
	logger  *logger.Logger

	state  atomic.Int32
	source atomic.Value
	frames atomic.Int64
	scored atomic.Int64
}

func (ss *session) setState(st State) {
	ss.state.Store(int32(st))
	if ss.svc.opts.OnState != nil {
		ss.svc.opts.OnState(ss.id, st)
	}
}

func (ss *session) info() SessionInfo {
	source, _ := ss.source.Load().(string)
	return SessionInfo{
		ID:       ss.id,
		SourceID: source,
		State:    State(ss.state.Load()).String(),
		Frames:   ss.frames.Load(),
		Scored:   ss.scored.Load(),
	}
}

func (ss *session) run() (err error) {
	ctx := ss.stream.Context()
	out := channel.NewOutbox(ss.svc.opts.ResultBuffer, ss.stream.Send)
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		ss.setState(StateClosed)
		if err != nil {
			ss.logger.Warning("Session ended: %v", err)
		} else {
			ss.logger.Info("Session closed after %d frame(s), %d scored", ss.frames.Load(), ss.scored.Load())
		}
	}()

	for {
		ss.setState(StateAwaitingFrame)
		msg, err := ss.stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		index := ss.frames.Add(1) - 1
		if index == 0 {
			ss.source.Store(msg.CameraID)
		}
		if !ss.sampler.ShouldScore(index) {
			continue
		}

		ss.setState(StateScoring)
		decoded, err := codec.Decode(msg)
		if err != nil {
			ss.logger.Warning("Dropping malformed frame %d from %s: %v", msg.Timestamp, msg.CameraID, err)
			continue
		}
		ss.scored.Add(1)

		decision, err := ss.svc.opts.Engine.Score(ctx, decoded.Image)
		if err != nil {
			ss.logger.Error("Scoring frame %d from %s failed, treating as negative: %v", msg.Timestamp, msg.CameraID, err)
			decision = engine.Decision{}
		}

		result := decision.Result(decoded.Frame)
		if result.Positive {
			ss.setState(StatePositive)
		} else {
			ss.setState(StateNegative)
		}

		if err := out.Push(ctx, codec.EncodeResult(result)); err != nil {
			return err
		}
		ss.svc.observe(result)
		if result.Positive {
			ss.svc.handlePositive(ctx, ss.logger, decision, decoded.Frame, result)
		}
	}
}
