package service

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/codec"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/engine"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/model"
	"github.com/zpskt/keen/internal/wire"
)

type fakeStream struct {
	ctx     context.Context
	frames  []*wire.VideoFrame
	recvErr error
	block   chan struct{}

	mu   sync.Mutex
	sent []*wire.DetectionResult
}

func (f *fakeStream) Context() context.Context {
	if f.ctx == nil {
		return context.Background()
	}
	return f.ctx
}

func (f *fakeStream) Recv() (*wire.VideoFrame, error) {
	if len(f.frames) > 0 {
		msg := f.frames[0]
		f.frames = f.frames[1:]
		return msg, nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	return nil, io.EOF
}

func (f *fakeStream) Send(r *wire.DetectionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeStream) results() []*wire.DetectionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.DetectionResult(nil), f.sent...)
}

func rawMsg(ts int64) *wire.VideoFrame {
	return &wire.VideoFrame{ImageData: []byte{1, 2, 3}, Timestamp: ts, CameraID: "cam-1", Width: 1, Height: 1, FrameType: wire.FrameTypeRaw}
}

func frames(n int) []*wire.VideoFrame {
	msgs := make([]*wire.VideoFrame, n)
	for i := range msgs {
		msgs[i] = rawMsg(int64(i + 1))
	}
	return msgs
}

func confident(c float64) engine.Classifier {
	return engine.ClassifierFunc(func(context.Context, *codec.Image) ([]model.Candidate, error) {
		return []model.Candidate{{ClassID: 0, Label: "fall", Confidence: c, Box: model.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}}}, nil
	})
}

type recordingBus struct {
	mu     sync.Mutex
	events []model.DetectionEvent
}

func (b *recordingBus) Publish(_ context.Context, ev model.DetectionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

type recordingPersister struct {
	snaps []model.Snapshot
	err   error
}

func (p *recordingPersister) Persist(_ context.Context, snap model.Snapshot) (*model.EventRecord, error) {
	p.snaps = append(p.snaps, snap)
	return &model.EventRecord{CameraID: snap.Result.SourceID, Timestamp: snap.Result.FrameTimestampMs}, p.err
}

type recordingNotifier struct {
	results []model.DetectionResult
}

func (n *recordingNotifier) SendDetectionResult(_ context.Context, r model.DetectionResult) error {
	n.results = append(n.results, r)
	return nil
}

func detectionConfig() config.DetectionConfig {
	return config.DetectionConfig{Threshold: 0.5, EscalationThreshold: 0.7, AlertClass: 0, InferenceTimeout: time.Second}
}

func newService(c engine.Classifier, sampling int, mutate func(*Options)) *DetectionService {
	opts := Options{
		Engine:           engine.New(c, detectionConfig(), nil),
		Logger:           logger.NewNop(),
		SamplingInterval: sampling,
		MaxSessions:      4,
		ResultBuffer:     4,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewDetectionService(opts)
}

func TestServe_SamplingEmitsOnlyScoredFrames(t *testing.T) {
	svc := newService(confident(0.1), 30, nil)
	stream := &fakeStream{frames: frames(100)}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	results := stream.results()
	want := []int64{1, 31, 61, 91}
	if len(results) != len(want) {
		t.Fatalf("Expected %d results, got %d", len(want), len(results))
	}
	for i, r := range results {
		if r.FrameTimestamp != want[i] || r.CameraID != "cam-1" {
			t.Errorf("result %d: expected frame %d from cam-1, got %d from %s", i, want[i], r.FrameTimestamp, r.CameraID)
		}
		if r.IsFall {
			t.Errorf("result %d should be negative", i)
		}
	}
}

func TestServe_InteractiveMode(t *testing.T) {
	svc := newService(confident(0.1), 30, func(o *Options) { o.InteractiveInterval = 5 })
	stream := &fakeStream{
		ctx:    WithSamplingMode(context.Background(), ModeInteractive),
		frames: frames(20),
	}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if n := len(stream.results()); n != 4 {
		t.Errorf("Expected 4 results at interval 5, got %d", n)
	}
}

func TestServe_EndToEndEscalation(t *testing.T) {
	bus := &recordingBus{}
	persister := &recordingPersister{}
	notifier := &recordingNotifier{}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	svc := newService(confident(0.82), 1, func(o *Options) {
		o.Bus = bus
		o.Persister = persister
		o.Notifier = notifier
		o.Clock = mock
	})
	stream := &fakeStream{frames: []*wire.VideoFrame{rawMsg(1700)}}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	results := stream.results()
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	r := results[0]
	if !r.IsFall || r.Confidence != float32(0.82) || len(r.BBox) != 4 {
		t.Errorf("Unexpected result %+v", r)
	}

	if len(bus.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(bus.events))
	}
	ev := bus.events[0]
	if ev.SourceID != "cam-1" || ev.FrameTimestampMs != 1700 || ev.Confidence != 0.82 {
		t.Errorf("Unexpected event %+v", ev)
	}
	if !ev.OccurredAt.Equal(mock.Now()) || len(ev.Objects) != 1 || ev.Objects[0] != "fall" {
		t.Errorf("Unexpected event details %+v", ev)
	}

	if len(persister.snaps) != 1 {
		t.Fatalf("Expected 1 persisted snapshot, got %d", len(persister.snaps))
	}
	snap := persister.snaps[0]
	if snap.Result.SourceID != "cam-1" || snap.Result.FrameTimestampMs != 1700 || snap.EventID != ev.ID {
		t.Errorf("Snapshot not attributed to the frame: %+v", snap)
	}
	if len(notifier.results) != 1 || notifier.results[0].FrameTimestampMs != 1700 {
		t.Errorf("Expected backend notification, got %+v", notifier.results)
	}
}

func TestServe_PositiveBelowEscalation(t *testing.T) {
	bus := &recordingBus{}
	persister := &recordingPersister{}
	svc := newService(confident(0.6), 1, func(o *Options) {
		o.Bus = bus
		o.Persister = persister
	})

	if err := svc.Serve(&fakeStream{frames: frames(1)}); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if len(bus.events) != 1 {
		t.Errorf("Expected event for positive detection, got %d", len(bus.events))
	}
	if len(persister.snaps) != 0 {
		t.Errorf("Expected no persistence below escalation threshold, got %d", len(persister.snaps))
	}
}

func TestServe_PersistenceFailureKeepsResult(t *testing.T) {
	persister := &recordingPersister{err: errors.New("disk full")}
	svc := newService(confident(0.9), 1, func(o *Options) { o.Persister = persister })
	stream := &fakeStream{frames: frames(2)}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if n := len(stream.results()); n != 2 {
		t.Errorf("Expected both results despite persistence failure, got %d", n)
	}
}

func TestServe_ClassifierErrorIsNegative(t *testing.T) {
	calls := 0
	flaky := engine.ClassifierFunc(func(context.Context, *codec.Image) ([]model.Candidate, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("inference crashed")
		}
		return []model.Candidate{{ClassID: 0, Confidence: 0.9}}, nil
	})
	svc := newService(flaky, 1, nil)
	stream := &fakeStream{frames: frames(2)}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve should survive classifier errors, got %v", err)
	}

	results := stream.results()
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].IsFall || results[0].Confidence != 0 || results[0].FrameTimestamp != 1 {
		t.Errorf("Failed frame should yield a negative result, got %+v", results[0])
	}
	if !results[1].IsFall || results[1].FrameTimestamp != 2 {
		t.Errorf("Session should continue after the failure, got %+v", results[1])
	}
}

func TestServe_MalformedFrameDropped(t *testing.T) {
	svc := newService(confident(0.1), 1, nil)
	bad := rawMsg(1)
	bad.ImageData = []byte{1}
	stream := &fakeStream{frames: []*wire.VideoFrame{bad, rawMsg(2)}}

	if err := svc.Serve(stream); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	results := stream.results()
	if len(results) != 1 || results[0].FrameTimestamp != 2 {
		t.Errorf("Expected only the well-formed frame to be answered, got %+v", results)
	}
}

func TestServe_StateTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []string
	svc := newService(confident(0.1), 1, func(o *Options) {
		o.OnState = func(_ string, st State) {
			mu.Lock()
			states = append(states, st.String())
			mu.Unlock()
		}
	})

	if err := svc.Serve(&fakeStream{frames: frames(1)}); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	want := "awaiting_frame,scoring,negative,awaiting_frame,closed"
	if got := strings.Join(states, ","); got != want {
		t.Errorf("Expected transitions %s, got %s", want, got)
	}
}

func TestServe_ChannelErrorEndsSession(t *testing.T) {
	svc := newService(confident(0.1), 1, nil)
	stream := &fakeStream{frames: frames(1), recvErr: &channel.Error{Op: "recv", Err: io.ErrUnexpectedEOF}}

	err := svc.Serve(stream)
	if !channel.IsChannelError(err) {
		t.Errorf("Expected channel error, got %v", err)
	}
	if n := len(stream.results()); n != 1 {
		t.Errorf("Results queued before the failure should be flushed, got %d", n)
	}
	if len(svc.Sessions()) != 0 {
		t.Error("Session should be unregistered after it ends")
	}
}

func TestServe_PoolExhausted(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	svc := newService(confident(0.1), 1, func(o *Options) {
		o.MaxSessions = 1
		o.OnState = func(_ string, st State) {
			if st == StateAwaitingFrame {
				once.Do(func() { close(started) })
			}
		}
	})

	block := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- svc.Serve(&fakeStream{block: block}) }()
	<-started

	sessions := svc.Sessions()
	if len(sessions) != 1 || sessions[0].State != "awaiting_frame" {
		t.Errorf("Expected one waiting session, got %+v", sessions)
	}

	if err := svc.Serve(&fakeStream{}); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Expected ErrPoolExhausted, got %v", err)
	}
	err := svc.StreamDetection(&fakeStream{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("Expected ResourceExhausted, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Errorf("First session failed: %v", err)
	}
	if err := svc.Serve(&fakeStream{}); err != nil {
		t.Errorf("Slot should be free again, got %v", err)
	}
}

func TestSingleDetection(t *testing.T) {
	calls := 0
	counting := engine.ClassifierFunc(func(context.Context, *codec.Image) ([]model.Candidate, error) {
		calls++
		return []model.Candidate{{ClassID: 0, Confidence: 0.75}}, nil
	})
	svc := newService(counting, 30, nil)

	empty, err := svc.SingleDetection(context.Background(), &wire.VideoFrame{Timestamp: 9, CameraID: "ping"})
	if err != nil {
		t.Fatalf("SingleDetection failed: %v", err)
	}
	if empty.IsFall || empty.CameraID != "ping" || empty.FrameTimestamp != 9 || calls != 0 {
		t.Errorf("Empty frame should be answered without inference, got %+v (calls=%d)", empty, calls)
	}

	res, err := svc.SingleDetection(context.Background(), rawMsg(10))
	if err != nil {
		t.Fatalf("SingleDetection failed: %v", err)
	}
	if !res.IsFall || calls != 1 {
		t.Errorf("Expected positive result from one inference, got %+v (calls=%d)", res, calls)
	}

	bad := rawMsg(11)
	bad.ImageData = []byte{1}
	if _, err := svc.SingleDetection(context.Background(), bad); status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestStreamDetection_OverGRPC(t *testing.T) {
	svc := newService(confident(0.82), 2, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(channel.ServerOptions(0)...)
	channel.RegisterDetectionServer(srv, svc)
	go srv.Serve(lis)
	defer srv.Stop()

	dialer := &channel.GRPCDialer{
		Address: "passthrough:///bufnet",
		Options: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	for _, msg := range frames(4) {
		if err := stream.Send(msg); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}

	var got []int64
	for {
		res, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		got = append(got, res.FrameTimestamp)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("Expected results for frames 1 and 3, got %v", got)
	}
}

func TestStreamDetection_FullHDRawFrameOverGRPC(t *testing.T) {
	svc := newService(confident(0.82), 1, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(channel.ServerOptions(0)...)
	channel.RegisterDetectionServer(srv, svc)
	go srv.Serve(lis)
	defer srv.Stop()

	dialer := &channel.GRPCDialer{
		Address: "passthrough:///bufnet",
		Options: []grpc.DialOption{grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer stream.Close()

	const width, height = 1920, 1080
	msg := &wire.VideoFrame{
		ImageData: make([]byte, width*height*3),
		Timestamp: 7,
		CameraID:  "cam-hd",
		Width:     width,
		Height:    height,
		FrameType: wire.FrameTypeRaw,
	}
	if err := stream.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("CloseSend failed: %v", err)
	}

	res, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !res.IsFall || res.FrameTimestamp != 7 || res.CameraID != "cam-hd" {
		t.Errorf("Unexpected result %+v", res)
	}
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Expected io.EOF after the only result, got %v", err)
	}
}
