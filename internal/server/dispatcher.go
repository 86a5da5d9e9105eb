package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cbeuw/tlsecho/internal/secure"
	"golang.org/x/sync/semaphore"

	log "github.com/sirupsen/logrus"
)

// Driver repeatedly accepts connections from l and runs handshake and echo on them.
// Serve closes l before returning. Cancelling ctx stops it and returns nil.
type Driver interface {
	Serve(ctx context.Context, l net.Listener) error
}

func MakeDriver(sta *State) Driver {
	if sta.Mode == Serial {
		return &SerialDriver{sta: sta}
	}
	return MakeConcurrentDriver(sta)
}

// handleConnection performs the server handshake on raw and echoes frames over the
// resulting channel. It owns raw and closes it before returning.
func handleConnection(ctx context.Context, raw net.Conn, sta *State) (outcome Outcome) {
	remoteAddr := raw.RemoteAddr()
	defer raw.Close()
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()

	sta.Observer.ConnOpened()
	defer sta.Observer.ConnClosed()
	defer func() { sta.Observer.Outcome(outcome) }()

	hsCtx := ctx
	if sta.HandshakeTimeout != 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, sta.HandshakeTimeout)
		defer cancel()
	}
	start := sta.WorldState.Now()
	channel, err := sta.Context.Accept(hsCtx, raw)
	sta.Observer.Handshake(sta.WorldState.Now().Sub(start), err)
	if err != nil {
		return Outcome{Kind: Failed, Err: err}
	}
	defer channel.Close()

	logger := log.WithField("remoteAddr", remoteAddr)
	logger.WithField("tls", secure.Describe(channel)).Debug("tls established")

	proto := MakeEchoProtocol(channel, sta.Echo)
	for {
		outcome = proto.Run()
		switch outcome.Kind {
		case Completed:
			sta.Observer.Echoed(len(outcome.Frame))
			logger.WithField("bytes", len(outcome.Frame)).Info("echoed frame")
			if !sta.KeepAlive {
				return outcome
			}
		case GracefullyClosed:
			logger.Info("connection closed")
			return outcome
		default:
			return outcome
		}
	}
}

// SerialDriver handles one connection at a time. A failed connection stops the
// whole service.
type SerialDriver struct {
	sta *State
}

func (d *SerialDriver) Serve(ctx context.Context, l net.Listener) error {
	defer l.Close()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		log.Debug("awaiting new client")
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		remoteAddr := conn.RemoteAddr()
		outcome := handleConnection(ctx, conn, d.sta)
		if outcome.Kind == Failed {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection from %v: %w", remoteAddr, outcome.Err)
		}
	}
}

var acceptBackoff = [10]time.Duration{
	50 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
	3 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second}

// ConcurrentDriver hands every accepted connection to its own goroutine. At most
// State.MaxConns connections are handled at once; further ones wait in the listen
// backlog. A failed connection is logged and does not affect any other.
type ConcurrentDriver struct {
	sta *State
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func MakeConcurrentDriver(sta *State) *ConcurrentDriver {
	maxConns := sta.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	return &ConcurrentDriver{
		sta: sta,
		sem: semaphore.NewWeighted(maxConns),
	}
}

func (d *ConcurrentDriver) Serve(ctx context.Context, l net.Listener) error {
	defer l.Close()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	// in-flight connections finish before Serve returns
	defer d.wg.Wait()

	fails := 0
	for {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		conn, err := l.Accept()
		if err != nil {
			d.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			log.Errorf("%v, retrying", err)
			select {
			case <-time.After(acceptBackoff[fails]):
			case <-ctx.Done():
				return nil
			}
			if fails < len(acceptBackoff)-1 {
				fails++
			}
			continue
		}
		fails = 0

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.sem.Release(1)
			remoteAddr := conn.RemoteAddr()
			outcome := handleConnection(ctx, conn, d.sta)
			if outcome.Kind == Failed && ctx.Err() == nil {
				log.WithField("remoteAddr", remoteAddr).Error(outcome.Err)
			}
		}()
	}
}
