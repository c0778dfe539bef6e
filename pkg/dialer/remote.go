// Package dialer opens the two legs of one bridge: the authenticated
// TLS connection to the remote rendezvous server, and the TCP/TLS
// connection to the local service.
package dialer

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tacticalchihuahua/diglet/pkg/config"
	"github.com/tacticalchihuahua/diglet/pkg/handshake"
	"github.com/tacticalchihuahua/diglet/pkg/pool"
)

// challengeReadTimeout bounds how long RemoteDialer waits for the
// remote's first chunk before giving up. An unbounded read would wedge
// a pool slot forever against a remote that never challenges.
const challengeReadTimeout = 30 * time.Second

// RemoteConn is one authenticated, framed TLS socket to the remote,
// from the moment it completes the challenge/response handshake. It is
// net.Conn plus the session id used to correlate log lines for this
// bridge.
type RemoteConn struct {
	net.Conn
	SessionID string
}

// RemoteDialError reports a dial-time failure: TLS/TCP connect error,
// challenge parse failure, or response write failure.
type RemoteDialError struct {
	Err     error
	Refused bool
}

func (e *RemoteDialError) Error() string {
	return fmt.Sprintf("remote dial: %v", e.Err)
}

func (e *RemoteDialError) Unwrap() error { return e.Err }

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// RemoteDialer opens one authenticated connection to the remote per
// dial.
type RemoteDialer struct {
	cfg   *config.TunnelConfig
	codec handshake.Codec
}

// NewRemoteDialer constructs a RemoteDialer for cfg, authenticating
// with codec.
func NewRemoteDialer(cfg *config.TunnelConfig, codec handshake.Codec) *RemoteDialer {
	return &RemoteDialer{cfg: cfg, codec: codec}
}

// Dial opens one TLS connection to the remote, adds it to p as soon as
// the TCP/TLS connect succeeds (before the challenge arrives), then
// waits for the challenge, signs it, and writes the response as one
// write. On any failure it removes the tentative membership, closes
// the socket, and returns a *RemoteDialError.
func (d *RemoteDialer) Dial(p *pool.Pool) (*RemoteConn, error) {
	addr := net.JoinHostPort(d.cfg.RemoteAddress, portString(d.cfg.RemotePort))

	conn, err := dialInsecureTLS("tcp", addr, d.cfg.RemoteAddress)
	if err != nil {
		return nil, &RemoteDialError{Err: err, Refused: isConnRefused(err)}
	}

	remote := &RemoteConn{Conn: conn, SessionID: uuid.NewString()}

	// Added to the pool on successful connect, before the challenge arrives.
	if !p.Add(remote) {
		remote.Close()
		return nil, &RemoteDialError{Err: fmt.Errorf("pool at capacity")}
	}

	if err := d.authenticate(remote); err != nil {
		p.Remove(remote)
		remote.Close()
		return nil, &RemoteDialError{Err: err, Refused: isConnRefused(err)}
	}

	return remote, nil
}

func (d *RemoteDialer) authenticate(remote *RemoteConn) error {
	remote.SetReadDeadline(time.Now().Add(challengeReadTimeout))
	chunk := make([]byte, 4096)
	n, err := remote.Read(chunk)
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	remote.SetReadDeadline(time.Time{})

	challenge, err := d.codec.Parse(chunk[:n])
	if err != nil {
		return fmt.Errorf("parsing challenge: %w", err)
	}

	response, err := d.codec.Sign(challenge, d.cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("signing challenge: %w", err)
	}

	if _, err := remote.Write(response); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return nil
}

func portString(p int) string {
	return fmt.Sprintf("%d", p)
}
