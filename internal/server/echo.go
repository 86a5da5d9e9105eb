package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cbeuw/tlsecho/internal/common"

	log "github.com/sirupsen/logrus"
)

const Sentinel = common.Sentinel

type OutcomeKind int

const (
	// Completed means one frame was read and echoed back
	Completed OutcomeKind = iota
	// GracefullyClosed means the peer left before sending any byte of a frame
	GracefullyClosed
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "completed"
	case GracefullyClosed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of processing one frame, or one connection
type Outcome struct {
	Kind OutcomeKind
	// Frame is the echoed frame including the sentinel, set when Completed
	Frame []byte
	// Err is set when Failed
	Err error
}

type EchoConfig struct {
	// MaxFrameSize bounds the frame length including the sentinel. 0 means unlimited.
	MaxFrameSize int
	// ReadTimeout bounds each wait for frame bytes. 0 means no deadline.
	ReadTimeout time.Duration
	Valve       *Valve
	// Sink receives a copy of every echoed frame. May be nil.
	Sink io.Writer
}

// EchoProtocol echoes sentinel-terminated frames over an established channel.
// Each call to Run handles exactly one frame.
type EchoProtocol struct {
	conn   net.Conn
	r      *bufio.Reader
	config EchoConfig
}

func MakeEchoProtocol(conn net.Conn, config EchoConfig) *EchoProtocol {
	if config.Valve == nil {
		config.Valve = MakeValve(0, 0)
	}
	return &EchoProtocol{
		conn:   conn,
		r:      bufio.NewReader(conn),
		config: config,
	}
}

// Run reads up to and including the next sentinel and writes the same bytes back.
// A stream that ends cleanly after some bytes has those bytes echoed as the frame.
func (p *EchoProtocol) Run() Outcome {
	frame, err := p.readFrame()
	if err != nil && !(err == io.EOF && len(frame) > 0) {
		return p.classify(frame, err)
	}
	p.config.Valve.AddRx(int64(len(frame)))

	p.config.Valve.txWait(len(frame))
	_, err = p.conn.Write(frame)
	if err != nil {
		return Outcome{Kind: Failed, Err: &ProtocolError{Op: "write", Buffered: len(frame), Err: err}}
	}
	p.config.Valve.AddTx(int64(len(frame)))

	if p.config.Sink != nil {
		if _, err := p.config.Sink.Write(frame); err != nil {
			log.Debugf("failed to mirror frame: %v", err)
		}
	}
	return Outcome{Kind: Completed, Frame: frame}
}

func (p *EchoProtocol) readFrame() ([]byte, error) {
	var frame []byte
	for {
		if p.config.ReadTimeout != 0 {
			p.conn.SetReadDeadline(time.Now().Add(p.config.ReadTimeout))
		}
		chunk, err := p.r.ReadSlice(Sentinel)
		if len(chunk) > 0 {
			p.config.Valve.rxWait(len(chunk))
		}
		frame = append(frame, chunk...)
		if p.config.MaxFrameSize > 0 && len(frame) > p.config.MaxFrameSize {
			return frame, ErrFrameTooLarge
		}
		if err != bufio.ErrBufferFull {
			return frame, err
		}
	}
}

func (p *EchoProtocol) classify(frame []byte, err error) Outcome {
	if len(frame) == 0 && (isEndOfStream(err) || isReset(err)) {
		return Outcome{Kind: GracefullyClosed}
	}
	switch {
	case isReset(err):
		err = fmt.Errorf("%w: %v", ErrConnectionReset, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		// the transport ended inside a TLS record
		err = ErrIncompleteFrame
	}
	return Outcome{Kind: Failed, Err: &ProtocolError{Op: "read", Buffered: len(frame), Err: err}}
}
