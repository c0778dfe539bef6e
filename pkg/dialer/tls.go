package dialer

import (
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// dialInsecureTLS opens a TLS connection to addr with server-certificate
// verification disabled. It is routed through uTLS rather than
// crypto/tls directly: today it just negotiates a stock ClientHello
// (HelloGolang), but every TLS dial in this package goes through this
// one function, so swapping in certificate pinning or ClientHello
// randomization later touches one place.
//
// Cert verification is intentionally disabled: the remote reuses the
// same self-signed certificate for its public proxy and its tunnel
// endpoint, a trust choice of this protocol, not an oversight here.
func dialInsecureTLS(network, addr, serverName string) (net.Conn, error) {
	rawConn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	cfg := &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true, //nolint:gosec
	}

	uConn := utls.UClient(rawConn, cfg, utls.HelloGolang)
	if err := uConn.Handshake(); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return uConn, nil
}
