package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cbeuw/tlsecho/internal/common"
	"github.com/cbeuw/tlsecho/internal/identity"
	"github.com/cbeuw/tlsecho/internal/secure"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = "9999"
	DefaultCertPath = "server.crt"
	DefaultKeyPath  = "server.key"
	DefaultMaxConns = 256
)

type RawConfig struct {
	BindAddr  string
	CertPath  string
	KeyPath   string
	Mode      string
	Transport string
	// MaxConns bounds concurrently handled connections in concurrent mode
	MaxConns int
	// HandshakeTimeout and ReadTimeout are in seconds. 0 means no timeout.
	HandshakeTimeout int
	ReadTimeout      int
	MaxFrameSize     int
	KeepAlive        bool
	// RxRate and TxRate are in bytes per second. 0 means unlimited.
	RxRate    int64
	TxRate    int64
	AdminAddr string
}

type Mode int

const (
	Concurrent Mode = iota
	Serial
)

func (m Mode) String() string {
	if m == Serial {
		return "serial"
	}
	return "concurrent"
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "concurrent":
		return Concurrent, nil
	case "serial":
		return Serial, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// State is built once at startup and only read afterwards, by the driver and by
// every connection
type State struct {
	BindAddr         string
	Transport        string
	Mode             Mode
	MaxConns         int64
	HandshakeTimeout time.Duration
	KeepAlive        bool
	AdminAddr        string

	Context *secure.ServerContext
	Echo    EchoConfig
	Valve   *Valve

	Registry *prometheus.Registry
	Observer *Observer

	WorldState common.WorldState
}

// DefaultConfig reproduces the reference deployment: loopback on port 9999 with
// server.crt and server.key from the working directory
func DefaultConfig() RawConfig {
	return RawConfig{
		BindAddr: net.JoinHostPort(DefaultHost, DefaultPort),
		CertPath: DefaultCertPath,
		KeyPath:  DefaultKeyPath,
	}
}

// ParseConfig parses the config (either a path to json or the json itself as argument).
// Fields absent from the json keep their DefaultConfig value.
func ParseConfig(conf string) (raw RawConfig, err error) {
	raw = DefaultConfig()
	content, errPath := os.ReadFile(conf)
	if errPath != nil {
		errJson := json.Unmarshal([]byte(conf), &raw)
		if errJson != nil {
			return raw, errors.New("Failed to read/unmarshal configuration, path is invalid or " + errJson.Error())
		}
	} else {
		errJson := json.Unmarshal(content, &raw)
		if errJson != nil {
			return raw, errors.New("Failed to read configuration file: " + errJson.Error())
		}
	}
	return raw, nil
}

// InitState validates raw and loads the server identity. No socket is bound here.
func InitState(raw RawConfig, worldState common.WorldState) (*State, error) {
	if raw.BindAddr == "" {
		return nil, errors.New("BindAddr must not be empty")
	}
	if _, _, err := net.SplitHostPort(raw.BindAddr); err != nil {
		return nil, fmt.Errorf("unable to parse BindAddr: %w", err)
	}
	mode, err := ParseMode(raw.Mode)
	if err != nil {
		return nil, err
	}
	transport := strings.ToLower(raw.Transport)
	switch transport {
	case "":
		transport = TransportDirect
	case TransportDirect, TransportWebSocket:
	default:
		return nil, fmt.Errorf("unknown transport %q", raw.Transport)
	}
	if raw.MaxConns < 0 || raw.HandshakeTimeout < 0 || raw.ReadTimeout < 0 || raw.MaxFrameSize < 0 {
		return nil, errors.New("MaxConns, HandshakeTimeout, ReadTimeout and MaxFrameSize must not be negative")
	}
	maxConns := int64(raw.MaxConns)
	if maxConns == 0 {
		maxConns = DefaultMaxConns
	}

	id, err := identity.LoadIdentity(raw.CertPath, raw.KeyPath)
	if err != nil {
		return nil, err
	}

	valve := MakeValve(raw.RxRate, raw.TxRate)
	reg := prometheus.NewRegistry()
	sta := &State{
		BindAddr:         raw.BindAddr,
		Transport:        transport,
		Mode:             mode,
		MaxConns:         maxConns,
		HandshakeTimeout: time.Duration(raw.HandshakeTimeout) * time.Second,
		KeepAlive:        raw.KeepAlive,
		AdminAddr:        raw.AdminAddr,
		Context:          secure.MakeServerContext(id),
		Echo: EchoConfig{
			MaxFrameSize: raw.MaxFrameSize,
			ReadTimeout:  time.Duration(raw.ReadTimeout) * time.Second,
			Valve:        valve,
		},
		Valve:      valve,
		Registry:   reg,
		Observer:   NewObserver(reg),
		WorldState: worldState,
	}
	return sta, nil
}

// Start initialises the state and only then binds the acceptor, so bad identity
// material never leaves a socket bound
func Start(raw RawConfig, worldState common.WorldState) (*State, net.Listener, error) {
	sta, err := InitState(raw, worldState)
	if err != nil {
		return nil, nil, err
	}
	l, err := Listen(sta.Transport, sta.BindAddr)
	if err != nil {
		return nil, nil, err
	}
	return sta, l, nil
}
