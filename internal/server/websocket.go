package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/cbeuw/tlsecho/internal/common"
	gmux "github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"
)

// wsListener is a net.Listener whose connections are websockets upgraded by an
// HTTP server running on a TCP listener. Each one is a raw byte stream that the
// TLS handshake then runs over.
type wsListener struct {
	tcp      net.Listener
	upgrader websocket.Upgrader
	connCh   chan net.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func ListenWebSocket(addr string) (net.Listener, error) {
	tcp, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("unable to listen on %v: %w", addr, err)
	}
	l := &wsListener{
		tcp:    tcp,
		connCh: make(chan net.Conn),
		closed: make(chan struct{}),
	}
	router := gmux.NewRouter()
	router.HandleFunc(common.WebSocketPath, l.upgradeHlr).Methods("GET")
	go func() {
		err := http.Serve(tcp, router)
		select {
		case <-l.closed:
		default:
			log.Errorf("websocket acceptor stopped: %v", err)
			l.Close()
		}
	}()
	return l, nil
}

func (l *wsListener) upgradeHlr(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("remoteAddr", r.RemoteAddr).Errorf("failed to upgrade connection to ws: %v", err)
		return
	}
	conn := common.NewWebSocketConn(c)
	select {
	case l.connCh <- conn:
	case <-l.closed:
		conn.Close()
	}
}

func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-l.closed:
		return nil, &net.OpError{Op: "accept", Net: "websocket", Addr: l.tcp.Addr(), Err: net.ErrClosed}
	}
}

func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.tcp.Close()
	})
	return err
}

func (l *wsListener) Addr() net.Addr {
	return l.tcp.Addr()
}
