package server

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/gorilla/websocket"
)

var (
	// ErrConnectionReset is reported when the peer drops the connection in the middle of a frame
	ErrConnectionReset = errors.New("connection reset by peer")
	ErrIncompleteFrame = errors.New("stream truncated before frame sentinel")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
)

// ProtocolError is a failure while reading or writing a frame after the handshake
type ProtocolError struct {
	Op string
	// Buffered is how many bytes of the frame had been accumulated when it failed
	Buffered int
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%v frame (%v bytes buffered): %v", e.Op, e.Buffered, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// isReset reports whether err comes from the peer abandoning the connection without a
// proper shutdown
func isReset(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseAbnormalClosure)
}

// isEndOfStream reports whether the peer ended the stream, cleanly or not
func isEndOfStream(err error) bool {
	return err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)
}
