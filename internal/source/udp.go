package source

import (
	"bytes"
	"context"
	"net"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/zpskt/keen/internal/model"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// pollInterval bounds how long Read waits on the socket before rechecking ctx.
const pollInterval = 250 * time.Millisecond

// UDP reassembles JPEG frames that cameras push as a run of datagrams. A
// datagram starting with the SOI marker begins a frame and one ending with
// the EOI marker completes it. Senders are keyed by IP.
type UDP struct {
	Addr  string
	Names map[string]string // Sender IP to camera id; unknown senders become "unknown_<ip>"
	Clock clock.Clock

	conn    *net.UDPConn
	buffers map[string]*bytes.Buffer
	packet  []byte
}

func NewUDP(addr string, names map[string]string) *UDP {
	return &UDP{Addr: addr, Names: names, Clock: clock.New()}
}

func (u *UDP) Open(_ context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", u.Addr)
	if err != nil {
		return errors.Wrap(err, "failed to resolve UDP address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on UDP %s", u.Addr)
	}
	u.conn = conn
	u.buffers = make(map[string]*bytes.Buffer)
	u.packet = make([]byte, 65535)
	return nil
}

// LocalAddr returns the bound address, useful when Addr asked for port 0.
func (u *UDP) LocalAddr() net.Addr {
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

func (u *UDP) Read(ctx context.Context) (model.Frame, error) {
	if u.conn == nil {
		return model.Frame{}, ErrNotOpen
	}
	for {
		if err := ctx.Err(); err != nil {
			return model.Frame{}, err
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return model.Frame{}, errors.Wrap(err, "failed to set read deadline")
		}
		n, remote, err := u.conn.ReadFromUDP(u.packet)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return model.Frame{}, errors.Wrap(err, "error reading UDP packet")
		}

		ip := remote.IP.String()
		data := u.packet[:n]
		buf, ok := u.buffers[ip]
		if !ok {
			buf = new(bytes.Buffer)
			u.buffers[ip] = buf
		}
		if bytes.HasPrefix(data, jpegHeader) {
			buf.Reset()
		}
		buf.Write(data)

		if !bytes.HasSuffix(data, jpegFooter) {
			continue
		}
		frame := make([]byte, buf.Len())
		copy(frame, buf.Bytes())
		buf.Reset()

		width, height, err := jpegSize(frame)
		if err != nil {
			// Lost the head of the frame; wait for the next one.
			continue
		}
		return model.Frame{
			ImageBytes:  frame,
			Encoding:    model.EncodingJPEG,
			Width:       width,
			Height:      height,
			TimestampMs: u.Clock.Now().UnixMilli(),
			SourceID:    u.cameraName(ip),
		}, nil
	}
}

func (u *UDP) cameraName(ip string) string {
	if name, ok := u.Names[ip]; ok {
		return name
	}
	return "unknown_" + strings.ReplaceAll(ip, ":", "_")
}

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}
