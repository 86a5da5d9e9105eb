package server

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/cbeuw/connutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn serves data, then fails every further read with err
type scriptedConn struct {
	net.Conn
	data    *bytes.Reader
	err     error
	written bytes.Buffer
}

func (c *scriptedConn) Read(b []byte) (int, error) {
	if c.data.Len() > 0 {
		return c.data.Read(b)
	}
	return 0, c.err
}

func (c *scriptedConn) Write(b []byte) (int, error)        { return c.written.Write(b) }
func (c *scriptedConn) SetReadDeadline(t time.Time) error { return nil }

func resetAfter(data []byte) *scriptedConn {
	return &scriptedConn{
		data: bytes.NewReader(data),
		err:  &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
	}
}

func nonZeroPayload(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	for i := range b {
		if b[i] == Sentinel {
			b[i] = 0xff
		}
	}
	return b
}

func runAsync(p *EchoProtocol) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() { ch <- p.Run() }()
	return ch
}

func TestEcho_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for _, size := range []int{0, 1, 100, 4095, 4096, 4097, 65536} {
		local, remote := connutil.AsyncPipe()
		p := MakeEchoProtocol(remote, EchoConfig{})
		outCh := runAsync(p)

		frame := append(nonZeroPayload(r, size), Sentinel)
		_, err := local.Write(frame)
		require.NoError(t, err)

		got := make([]byte, len(frame))
		_, err = io.ReadFull(local, got)
		require.NoError(t, err)
		assert.Equal(t, frame, got, "size %v", size)

		out := <-outCh
		assert.Equal(t, Completed, out.Kind)
		assert.Equal(t, frame, out.Frame)
		local.Close()
		remote.Close()
	}
}

func TestEcho_DelimiterConsumedOnce(t *testing.T) {
	local, remote := connutil.AsyncPipe()
	defer local.Close()
	defer remote.Close()
	sink := new(bytes.Buffer)
	valve := MakeValve(0, 0)
	p := MakeEchoProtocol(remote, EchoConfig{Sink: sink, Valve: valve})
	outCh := runAsync(p)

	msg := []byte("abcde\nhehe\n\x00")
	local.Write(msg)
	got := make([]byte, len(msg))
	_, err := io.ReadFull(local, got)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde\nhehe\n\x00"), got)

	out := <-outCh
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, msg, sink.Bytes())
	assert.EqualValues(t, len(msg), valve.GetRx())
	assert.EqualValues(t, len(msg), valve.GetTx())
}

func TestEcho_OneFramePerRun(t *testing.T) {
	local, remote := connutil.AsyncPipe()
	defer local.Close()
	defer remote.Close()
	p := MakeEchoProtocol(remote, EchoConfig{})

	local.Write([]byte("first\x00second\x00"))
	out := p.Run()
	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, []byte("first\x00"), out.Frame)

	out = p.Run()
	require.Equal(t, Completed, out.Kind)
	assert.Equal(t, []byte("second\x00"), out.Frame)
}

func TestEcho_PeerDeparture(t *testing.T) {
	t.Run("close before any byte", func(t *testing.T) {
		local, remote := net.Pipe()
		p := MakeEchoProtocol(remote, EchoConfig{})
		local.Close()
		out := p.Run()
		assert.Equal(t, GracefullyClosed, out.Kind)
		assert.NoError(t, out.Err)
	})

	t.Run("end of stream mid frame", func(t *testing.T) {
		conn := &scriptedConn{data: bytes.NewReader([]byte("abc")), err: io.EOF}
		p := MakeEchoProtocol(conn, EchoConfig{})
		out := p.Run()
		require.Equal(t, Completed, out.Kind)
		assert.Equal(t, []byte("abc"), out.Frame)
		assert.Equal(t, "abc", conn.written.String())
		assert.Equal(t, GracefullyClosed, p.Run().Kind)
	})

	t.Run("truncated mid frame", func(t *testing.T) {
		conn := &scriptedConn{data: bytes.NewReader([]byte("abc")), err: io.ErrUnexpectedEOF}
		out := MakeEchoProtocol(conn, EchoConfig{}).Run()
		require.Equal(t, Failed, out.Kind)
		assert.True(t, errors.Is(out.Err, ErrIncompleteFrame))
		var pe *ProtocolError
		require.True(t, errors.As(out.Err, &pe))
		assert.Equal(t, 3, pe.Buffered)
		assert.Equal(t, "read", pe.Op)
		assert.Equal(t, 0, conn.written.Len())
	})

	t.Run("reset before any byte", func(t *testing.T) {
		conn := resetAfter(nil)
		out := MakeEchoProtocol(conn, EchoConfig{}).Run()
		assert.Equal(t, GracefullyClosed, out.Kind)
		assert.Equal(t, 0, conn.written.Len())
	})

	t.Run("reset mid frame", func(t *testing.T) {
		conn := resetAfter([]byte("partial"))
		out := MakeEchoProtocol(conn, EchoConfig{}).Run()
		require.Equal(t, Failed, out.Kind)
		assert.True(t, errors.Is(out.Err, ErrConnectionReset))
		assert.Equal(t, 0, conn.written.Len())
	})

	t.Run("reset after a full frame", func(t *testing.T) {
		conn := resetAfter([]byte("done\x00"))
		p := MakeEchoProtocol(conn, EchoConfig{})
		assert.Equal(t, Completed, p.Run().Kind)
		assert.Equal(t, GracefullyClosed, p.Run().Kind)
		assert.Equal(t, "done\x00", conn.written.String())
	})

	t.Run("other read error", func(t *testing.T) {
		conn := &scriptedConn{data: bytes.NewReader(nil), err: errors.New("bad record MAC")}
		out := MakeEchoProtocol(conn, EchoConfig{}).Run()
		assert.Equal(t, Failed, out.Kind)
		assert.False(t, errors.Is(out.Err, ErrConnectionReset))
	})
}

func TestEcho_MaxFrameSize(t *testing.T) {
	conn := resetAfter(append(bytes.Repeat([]byte{'a'}, 10000), Sentinel))
	out := MakeEchoProtocol(conn, EchoConfig{MaxFrameSize: 4096}).Run()
	require.Equal(t, Failed, out.Kind)
	assert.True(t, errors.Is(out.Err, ErrFrameTooLarge))
	assert.Equal(t, 0, conn.written.Len())

	conn = resetAfter([]byte("fits\x00"))
	out = MakeEchoProtocol(conn, EchoConfig{MaxFrameSize: 5}).Run()
	assert.Equal(t, Completed, out.Kind)
}

func TestEcho_ReadTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	out := MakeEchoProtocol(remote, EchoConfig{ReadTimeout: 50 * time.Millisecond}).Run()
	require.Equal(t, Failed, out.Kind)
	assert.True(t, errors.Is(out.Err, os.ErrDeadlineExceeded))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("sink closed") }

func TestEcho_SinkFailureIgnored(t *testing.T) {
	conn := resetAfter([]byte("mirrored\x00"))
	out := MakeEchoProtocol(conn, EchoConfig{Sink: failingWriter{}}).Run()
	assert.Equal(t, Completed, out.Kind)
	assert.Equal(t, "mirrored\x00", conn.written.String())
}
