package channel

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/wire"
)

// Longest reason a close frame can carry.
const maxCloseReason = 123

// WebSocketHandler serves sessions over WebSocket. Each binary message is one
// wire-encoded VideoFrame (client to server) or DetectionResult (server to
// client). A normal close frame from the client is the half-close.
type WebSocketHandler struct {
	Serve         func(ServerStream) error
	Upgrader      websocket.Upgrader
	MaxFrameBytes int // Zero selects DefaultMaxFrameBytes
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(int64(frameLimit(h.MaxFrameBytes)))

	// The server still has results to send after the client half-closes, so
	// the close frame is not echoed until Serve returns.
	conn.SetCloseHandler(func(int, string) error { return nil })

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	code, reason := websocket.CloseNormalClosure, ""
	if err := h.Serve(&wsServerStream{conn: conn, ctx: ctx, cancel: cancel}); err != nil {
		code, reason = websocket.CloseInternalServerErr, err.Error()
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

type wsServerStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *wsServerStream) Context() context.Context { return s.ctx }

func (s *wsServerStream) Recv() (*wire.VideoFrame, error) {
	data, err := readBinary(s.conn)
	if err != nil {
		if err != io.EOF {
			s.cancel()
		}
		return nil, err
	}
	m := new(wire.VideoFrame)
	if err := m.Unmarshal(data); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	return m, nil
}

func (s *wsServerStream) Send(r *wire.DetectionResult) error {
	return writeBinary(s.conn, r)
}

// WebSocketDialer opens sessions against a WebSocketHandler.
type WebSocketDialer struct {
	URL           string
	Header        http.Header
	Dialer        *websocket.Dialer
	MaxFrameBytes int // Zero selects DefaultMaxFrameBytes
}

func (d *WebSocketDialer) Dial(ctx context.Context) (ClientStream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	conn.SetReadLimit(int64(frameLimit(d.MaxFrameBytes)))
	return &wsClientStream{conn: conn}, nil
}

type wsClientStream struct {
	conn *websocket.Conn
}

func (s *wsClientStream) Send(f *wire.VideoFrame) error {
	return writeBinary(s.conn, f)
}

func (s *wsClientStream) CloseSend() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return wrap("close send", s.conn.WriteMessage(websocket.CloseMessage, msg))
}

func (s *wsClientStream) Recv() (*wire.DetectionResult, error) {
	data, err := readBinary(s.conn)
	if err != nil {
		return nil, err
	}
	m := new(wire.DetectionResult)
	if err := m.Unmarshal(data); err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	return m, nil
}

func (s *wsClientStream) Close() error {
	return s.conn.Close()
}

func readBinary(conn *websocket.Conn) ([]byte, error) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, &Error{Op: "recv", Err: err}
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
		// Text frames carry nothing on this channel.
	}
}

func writeBinary(conn *websocket.Conn, m wire.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return &Error{Op: "encode", Err: err}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return &Error{Op: "send", Err: errors.WithStack(err)}
	}
	return nil
}
