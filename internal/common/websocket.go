package common

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseTimeout = time.Second

// WebSocketConn turns a message-oriented websocket.Conn into a net.Conn byte stream.
// A read may return part of a message; the rest is returned by subsequent reads.
type WebSocketConn struct {
	*websocket.Conn
	writeM sync.Mutex

	readM sync.Mutex
	msg   io.Reader
}

func NewWebSocketConn(c *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: c}
}

func (ws *WebSocketConn) Write(data []byte) (int, error) {
	ws.writeM.Lock()
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	ws.writeM.Unlock()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (ws *WebSocketConn) Read(buf []byte) (n int, err error) {
	ws.readM.Lock()
	defer ws.readM.Unlock()
	for {
		if ws.msg == nil {
			var t int
			var r io.Reader
			t, r, err = ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = io.EOF
				}
				return 0, err
			}
			if t != websocket.BinaryMessage {
				continue
			}
			ws.msg = r
		}
		n, err = ws.msg.Read(buf)
		if err == io.EOF {
			ws.msg = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Close sends a normal closure frame before closing the underlying connection
func (ws *WebSocketConn) Close() error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout))
	return ws.Conn.Close()
}

func (ws *WebSocketConn) SetDeadline(t time.Time) error {
	err := ws.SetReadDeadline(t)
	if err != nil {
		return err
	}
	return ws.SetWriteDeadline(t)
}
