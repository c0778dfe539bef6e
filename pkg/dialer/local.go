package dialer

import (
	"fmt"
	"net"
	"time"

	"github.com/tacticalchihuahua/diglet/pkg/config"
)

// localDialTimeout bounds the plain-TCP local connect attempt. A
// bounded local dial keeps one bad local service from wedging a pool
// slot indefinitely. The TLS path (SecureLocalConnection) dials through
// dialInsecureTLS, which sets no timeout of its own.
const localDialTimeout = 10 * time.Second

// LocalDialError reports a local-side dial failure.
type LocalDialError struct {
	Err error
}

func (e *LocalDialError) Error() string { return fmt.Sprintf("local dial: %v", e.Err) }
func (e *LocalDialError) Unwrap() error { return e.Err }

// LocalDialer opens a TCP or TLS connection to the local service.
// There is no explicit "pause remote until local connects" flag in
// Go's blocking-read model: the Bridge simply does not begin reading
// from remote until LocalDialer.Dial has returned, which gives the
// same no-bytes-dropped guarantee.
type LocalDialer struct {
	cfg *config.TunnelConfig
}

// NewLocalDialer constructs a LocalDialer for cfg.
func NewLocalDialer(cfg *config.TunnelConfig) *LocalDialer {
	return &LocalDialer{cfg: cfg}
}

// Dial connects to the local service, as TLS if cfg.SecureLocalConnection
// is set, else plain TCP.
func (d *LocalDialer) Dial() (net.Conn, error) {
	addr := net.JoinHostPort(d.cfg.LocalAddress, portString(d.cfg.LocalPort))

	if !d.cfg.SecureLocalConnection {
		conn, err := net.DialTimeout("tcp", addr, localDialTimeout)
		if err != nil {
			return nil, &LocalDialError{Err: err}
		}
		return conn, nil
	}

	conn, err := dialInsecureTLS("tcp", addr, d.cfg.LocalAddress)
	if err != nil {
		return nil, &LocalDialError{Err: err}
	}
	return conn, nil
}
