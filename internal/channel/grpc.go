package channel

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zpskt/keen/internal/wire"
)

const (
	serviceName         = "videostream.FallDetectionService"
	streamDetectionPath = "/" + serviceName + "/StreamDetection"
	singleDetectionPath = "/" + serviceName + "/SingleDetection"
)

// DetectionServer is implemented by the detection service.
type DetectionServer interface {
	StreamDetection(ServerStream) error
	SingleDetection(context.Context, *wire.VideoFrame) (*wire.DetectionResult, error)
}

// ServiceDesc describes the FallDetectionService. Servers registering it must
// be created with ServerOptions so the wire codec is used.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DetectionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SingleDetection", Handler: singleDetectionHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamDetection",
			Handler:       streamDetectionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "video_stream.proto",
}

// DefaultMaxFrameBytes caps one wire message when no limit is configured. It
// fits an uncompressed 4K RGB frame.
const DefaultMaxFrameBytes = 32 << 20

func frameLimit(n int) int {
	if n <= 0 {
		return DefaultMaxFrameBytes
	}
	return n
}

// ServerOptions returns the options a grpc.Server needs to serve ServiceDesc.
// maxFrameBytes bounds a single inbound message; zero selects DefaultMaxFrameBytes.
func ServerOptions(maxFrameBytes int) []grpc.ServerOption {
	limit := frameLimit(maxFrameBytes)
	return []grpc.ServerOption{
		grpc.ForceServerCodec(wire.Codec{}),
		grpc.MaxRecvMsgSize(limit),
		grpc.MaxSendMsgSize(limit),
	}
}

// RegisterDetectionServer registers srv on s.
func RegisterDetectionServer(s grpc.ServiceRegistrar, srv DetectionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func streamDetectionHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DetectionServer).StreamDetection(&grpcServerStream{ServerStream: stream})
}

func singleDetectionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.VideoFrame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DetectionServer).SingleDetection(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: singleDetectionPath}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DetectionServer).SingleDetection(ctx, req.(*wire.VideoFrame))
	}
	return interceptor(ctx, in, info, handler)
}

type grpcServerStream struct {
	grpc.ServerStream
}

func (s *grpcServerStream) Recv() (*wire.VideoFrame, error) {
	m := new(wire.VideoFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, wrap("recv", err)
	}
	return m, nil
}

func (s *grpcServerStream) Send(r *wire.DetectionResult) error {
	return wrap("send", s.ServerStream.SendMsg(r))
}

// DetectionClient is the client stub for the FallDetectionService.
type DetectionClient struct {
	cc grpc.ClientConnInterface
}

func NewDetectionClient(cc grpc.ClientConnInterface) *DetectionClient {
	return &DetectionClient{cc: cc}
}

// StreamDetection opens a bidirectional session.
func (c *DetectionClient) StreamDetection(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(wire.Codec{})}, opts...)
	return c.cc.NewStream(ctx, &ServiceDesc.Streams[0], streamDetectionPath, opts...)
}

// SingleDetection scores one frame.
func (c *DetectionClient) SingleDetection(ctx context.Context, in *wire.VideoFrame, opts ...grpc.CallOption) (*wire.DetectionResult, error) {
	out := new(wire.DetectionResult)
	opts = append([]grpc.CallOption{grpc.ForceCodec(wire.Codec{})}, opts...)
	if err := c.cc.Invoke(ctx, singleDetectionPath, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCDialer opens sessions over a fresh gRPC connection each time.
type GRPCDialer struct {
	Address       string
	Options       []grpc.DialOption
	MaxFrameBytes int // Zero selects DefaultMaxFrameBytes
}

func (d *GRPCDialer) Dial(ctx context.Context) (ClientStream, error) {
	limit := frameLimit(d.MaxFrameBytes)
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(limit), grpc.MaxCallRecvMsgSize(limit)),
	}, d.Options...)
	conn, err := grpc.NewClient(d.Address, opts...)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := NewDetectionClient(conn).StreamDetection(streamCtx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, &Error{Op: "open", Err: err}
	}
	return &grpcClientStream{stream: stream, cancel: cancel, conn: conn}, nil
}

type grpcClientStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
	conn   *grpc.ClientConn
}

func (s *grpcClientStream) Send(f *wire.VideoFrame) error {
	if err := s.stream.SendMsg(f); err != nil {
		// io.EOF here means the server ended the stream; the cause surfaces on Recv.
		return &Error{Op: "send", Err: err}
	}
	return nil
}

func (s *grpcClientStream) CloseSend() error {
	return wrap("close send", s.stream.CloseSend())
}

func (s *grpcClientStream) Recv() (*wire.DetectionResult, error) {
	m := new(wire.DetectionResult)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, wrap("recv", err)
	}
	return m, nil
}

func (s *grpcClientStream) Close() error {
	s.cancel()
	return s.conn.Close()
}
