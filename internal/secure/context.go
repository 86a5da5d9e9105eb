// Package secure wraps raw byte streams into TLS channels, as either the accepting
// (server) or the initiating (client) side of the handshake.
package secure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/cbeuw/tlsecho/internal/identity"
)

// HandshakeError is returned when the TLS negotiation does not complete
type HandshakeError struct {
	Role string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%v handshake failed: %v", e.Role, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

const (
	RoleServer = "server"
	RoleClient = "client"
)

var ErrNoServerName = errors.New("server name must not be empty")

// ServerContext performs the responding side of the handshake with a fixed identity.
// It is immutable and may be shared by every connection.
type ServerContext struct {
	config *tls.Config
}

func MakeServerContext(id *identity.ServerIdentity) *ServerContext {
	cert := tls.Certificate{
		Certificate: id.Chain,
		PrivateKey:  id.Key,
	}
	return &ServerContext{
		config: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.NoClientCert,
			MinVersion:   tls.VersionTLS12,
		},
	}
}

// Accept runs the server handshake over raw. Cancelling ctx aborts the handshake and
// closes raw.
func (sc *ServerContext) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	conn := tls.Server(raw, sc.config)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, &HandshakeError{Role: RoleServer, Err: err}
	}
	return conn, nil
}

// ClientContext performs the initiating side of the handshake, verifying the peer
// against a set of trusted roots and an expected name.
type ClientContext struct {
	config      *tls.Config
	fingerprint string
}

type ClientOption func(*ClientContext) error

// WithFingerprint makes the ClientHello mimic a browser. See fingerprints for the
// accepted names; "" and "go" keep the crypto/tls ClientHello.
func WithFingerprint(name string) ClientOption {
	return func(cc *ClientContext) error {
		name = strings.ToLower(name)
		if name == "go" {
			name = ""
		}
		if name != "" {
			if _, ok := fingerprints[name]; !ok {
				return fmt.Errorf("unsupported fingerprint %q", name)
			}
		}
		cc.fingerprint = name
		return nil
	}
}

func MakeClientContext(roots *x509.CertPool, serverName string, opts ...ClientOption) (*ClientContext, error) {
	if serverName == "" {
		return nil, ErrNoServerName
	}
	cc := &ClientContext{
		config: &tls.Config{
			RootCAs:    roots,
			ServerName: serverName,
			MinVersion: tls.VersionTLS12,
		},
	}
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}
	return cc, nil
}

// Connect runs the client handshake over raw
func (cc *ClientContext) Connect(ctx context.Context, raw net.Conn) (net.Conn, error) {
	if cc.fingerprint != "" {
		conn, err := cc.connectMimicking(ctx, raw)
		if err != nil {
			return nil, &HandshakeError{Role: RoleClient, Err: err}
		}
		return conn, nil
	}
	conn := tls.Client(raw, cc.config)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, &HandshakeError{Role: RoleClient, Err: err}
	}
	return conn, nil
}

type connectionStater interface {
	ConnectionState() tls.ConnectionState
}

// Describe returns the negotiated version and cipher suite of an established channel
func Describe(conn net.Conn) string {
	if cs, ok := conn.(connectionStater); ok {
		state := cs.ConnectionState()
		return fmt.Sprintf("%v %v", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
	}
	if u, ok := conn.(uConnectionStater); ok {
		state := u.ConnectionState()
		return fmt.Sprintf("%v %v", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
	}
	return "unknown"
}
