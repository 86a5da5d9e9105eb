// Package client dials the echo server and exchanges frames with it.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/cbeuw/tlsecho/internal/common"
	"github.com/cbeuw/tlsecho/internal/secure"
	"github.com/gorilla/websocket"
)

var ErrSentinelInPayload = errors.New("payload contains the frame sentinel")

type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dial opens a raw stream to addr over transport ("direct" or "websocket") and runs
// the client handshake over it. A nil dialer uses a zero net.Dialer.
func Dial(ctx context.Context, transport string, addr string, cc *secure.ClientContext, dialer Dialer) (net.Conn, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	raw, err := dialRaw(ctx, transport, addr, dialer)
	if err != nil {
		return nil, err
	}
	conn, err := cc.Connect(ctx, raw)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func dialRaw(ctx context.Context, transport string, addr string, dialer Dialer) (net.Conn, error) {
	switch strings.ToLower(transport) {
	case "", "direct":
		return dialer.DialContext(ctx, "tcp", addr)
	case "websocket":
		wsDialer := websocket.Dialer{NetDialContext: dialer.DialContext}
		u := url.URL{Scheme: "ws", Host: addr, Path: common.WebSocketPath}
		c, _, err := wsDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open websocket to %v: %w", addr, err)
		}
		return common.NewWebSocketConn(c), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Session exchanges successive frames over one established channel
type Session struct {
	net.Conn
	r *bufio.Reader
}

func NewSession(conn net.Conn) *Session {
	return &Session{Conn: conn, r: bufio.NewReader(conn)}
}

// Exchange sends payload as one frame and returns the frame read back, sentinel
// included. The sentinel is appended unless payload already ends with it.
func (s *Session) Exchange(payload []byte) ([]byte, error) {
	frame := payload
	if len(frame) == 0 || frame[len(frame)-1] != common.Sentinel {
		frame = append(append(make([]byte, 0, len(payload)+1), payload...), common.Sentinel)
	}
	if bytes.IndexByte(frame[:len(frame)-1], common.Sentinel) != -1 {
		return nil, ErrSentinelInPayload
	}
	if _, err := s.Write(frame); err != nil {
		return nil, err
	}
	return s.r.ReadBytes(common.Sentinel)
}

// Exchange sends a single frame over conn and reads the echo
func Exchange(conn net.Conn, payload []byte) ([]byte, error) {
	return NewSession(conn).Exchange(payload)
}
