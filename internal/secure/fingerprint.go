package secure

import (
	"context"
	"net"

	utls "github.com/refraction-networking/utls"
)

var fingerprints = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"ios":     utls.HelloIOS_Auto,
}

type uConnectionStater interface {
	ConnectionState() utls.ConnectionState
}

// connectMimicking runs a real handshake with a browser-shaped ClientHello.
// Certificate verification is still done against the configured roots.
func (cc *ClientContext) connectMimicking(ctx context.Context, raw net.Conn) (net.Conn, error) {
	uconn := utls.UClient(raw, &utls.Config{
		RootCAs:    cc.config.RootCAs,
		ServerName: cc.config.ServerName,
	}, fingerprints[cc.fingerprint])
	if err := uconn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return uconn, nil
}
