package server

import (
	"fmt"
	"net"
	"strings"
)

const (
	TransportDirect    = "direct"
	TransportWebSocket = "websocket"
)

// Listen binds the acceptor for the given transport. Connections are yielded by
// Accept in arrival order; an Accept error does not invalidate the listener.
func Listen(transport string, addr string) (net.Listener, error) {
	switch strings.ToLower(transport) {
	case "", TransportDirect:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("unable to listen on %v: %w", addr, err)
		}
		return l, nil
	case TransportWebSocket:
		return ListenWebSocket(addr)
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}
