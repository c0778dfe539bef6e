// Package bridge pairs one authenticated remote connection with one
// local connection and pipes bytes between them.
package bridge

import (
	"io"
	"net"
	"sync"

	"github.com/tacticalchihuahua/diglet/pkg/config"
	"github.com/tacticalchihuahua/diglet/pkg/dialer"
	"github.com/tacticalchihuahua/diglet/pkg/rewrite"
)

// Bridge joins one RemoteConn and one local net.Conn and pipes bytes
// in both directions.
type Bridge struct {
	Remote *dialer.RemoteConn
	Local  net.Conn
	cfg    *config.TunnelConfig
}

// New builds a Bridge. local must already be connected (LocalDialer
// has returned) before Run begins reading from remote, which is what
// gives the "no bytes dropped before local is connected" guarantee.
func New(cfg *config.TunnelConfig, remote *dialer.RemoteConn, local net.Conn) *Bridge {
	return &Bridge{Remote: remote, Local: local, cfg: cfg}
}

// Run wires the forward stream (remote -> [Host rewrite] -> transform
// -> local) and the reverse stream (local -> remote, untransformed),
// and blocks until both directions have ended. Either leg ending (a
// clean remote close, a local read/write error, ...) closes both
// sides immediately, which is what unblocks the other leg's own
// blocking Read — the two legs are independent sockets with no other
// reason to notice each other's end. Once both goroutines have
// returned, onEnd is called with the first error observed (nil for an
// ordinary close); whichever leg ends first wins, since the induced
// close of the other leg surfaces only a "use of closed connection"
// artifact, not a real error.
//
// A clean remote close and a local-side error both end this call the
// same way, but callers care about the difference: an ordinary close
// always gets exactly one replacement dial, while an error drives the
// reconnection backoff instead. The err passed to onEnd is how the
// caller tells the two apart.
func (b *Bridge) Run(onEnd func(err error)) {
	var rewriter *rewrite.HostHeaderRewriter
	if rewrite.Active(b.cfg.LocalAddress) {
		rewriter = rewrite.New(b.cfg.LocalAddress)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var recorded bool
	var firstErr error
	var closeOnce sync.Once

	finish := func(err error) {
		mu.Lock()
		if !recorded {
			recorded = true
			firstErr = err
		}
		mu.Unlock()
		closeOnce.Do(func() {
			b.Local.Close()
			b.Remote.Close()
		})
	}

	go func() {
		defer wg.Done()
		finish(b.pipeForward(rewriter))
	}()
	go func() {
		defer wg.Done()
		_, err := io.Copy(b.Remote, b.Local)
		finish(err)
	}()

	wg.Wait()

	if onEnd != nil {
		onEnd(firstErr)
	}
}

// pipeForward reads chunks from remote, applies the Host-header
// rewrite (at most once, and only when the local target isn't
// loopback) followed by the user transform, and writes the result to
// local. It returns nil on a clean EOF and the underlying error
// otherwise.
func (b *Bridge) pipeForward(rewriter *rewrite.HostHeaderRewriter) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := b.Remote.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if rewriter != nil {
				chunk = rewriter.Apply(chunk)
			}
			if b.cfg.Transform != nil {
				chunk = b.cfg.Transform(chunk)
			}
			if _, werr := b.Local.Write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
