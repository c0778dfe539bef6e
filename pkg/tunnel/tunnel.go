// Package tunnel implements the Supervisor that owns the connection
// pool, orchestrates bulk open, and reacts to connection loss with
// bounded reconnection.
package tunnel

import (
	"errors"
	"sync"
	"time"

	"github.com/tacticalchihuahua/diglet/pkg/bridge"
	"github.com/tacticalchihuahua/diglet/pkg/config"
	"github.com/tacticalchihuahua/diglet/pkg/dialer"
	"github.com/tacticalchihuahua/diglet/pkg/handshake"
	"github.com/tacticalchihuahua/diglet/pkg/pool"
	"github.com/tacticalchihuahua/diglet/pkg/statusclient"
)

// Tunnel is the client-side agent that owns the identity and the pool
// of authenticated remote connections, per the GLOSSARY's "Tunnel".
type Tunnel struct {
	cfg          *config.TunnelConfig
	remoteDialer *dialer.RemoteDialer
	localDialer  *dialer.LocalDialer
	statusClient *statusclient.Client
	pool         *pool.Pool

	events chan Event

	mu             sync.Mutex
	state          State
	reconnectTimer *time.Timer
	closed         bool
	draining       bool

	// wg tracks every in-flight runConnection goroutine (one per live
	// pool member), so Close and drain can wait for the pool to empty.
	wg sync.WaitGroup

	// opMu serializes Open and drain against each other: mutual
	// exclusion between the two operations that add to / wait on wg,
	// standing in for a single owning goroutine without funneling
	// every pool mutation through one channel.
	opMu sync.Mutex
}

// New constructs a Tunnel for cfg, authenticating pool connections
// with codec. Pass handshake.DefaultCodec{} unless the remote needs a
// different wire format.
func New(cfg *config.TunnelConfig, codec handshake.Codec) *Tunnel {
	return &Tunnel{
		cfg:          cfg,
		remoteDialer: dialer.NewRemoteDialer(cfg, codec),
		localDialer:  dialer.NewLocalDialer(cfg),
		statusClient: statusclient.New(cfg.RemoteAddress),
		pool:         pool.New(cfg.MaxConnections),
		events:       make(chan Event, eventBufferSize),
		state:        StateNew,
	}
}

// Events returns the channel of observable lifecycle events. The
// channel is never closed; it stops receiving sends once Close has
// emitted EventClosed.
func (t *Tunnel) Events() <-chan Event {
	return t.events
}

// State returns the tunnel's current coarse lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PoolSize returns the current number of authenticated pool
// connections.
func (t *Tunnel) PoolSize() int {
	return t.pool.Size()
}

func (t *Tunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tunnel) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.cfg.Logger.Printf("tunnel: event buffer full, dropping %s event", ev.Kind)
	}
}

// Open dials n concurrent authenticated connections to the remote and
// returns once all of them have finished dialing. If n <= 0, n is
// computed as maxConnections - pool.size. On full success it schedules
// the heartbeat and returns nil; on any dial failure it surfaces the
// first error (the failing dial(s) have already triggered the
// error-driven reconnection policy). Once Close has been called, Open
// dials nothing and returns an error.
func (t *Tunnel) Open(n int) error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("tunnel: closed")
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	if n <= 0 {
		n = t.cfg.MaxConnections - t.pool.Size()
	}
	t.state = StateOpening
	t.mu.Unlock()

	if n <= 0 {
		t.scheduleHeartbeat()
		t.setState(StateActive)
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- t.openOne()
		}()
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		t.setState(StateBackoff)
		return firstErr
	}

	t.scheduleHeartbeat()
	t.setState(StateActive)
	return nil
}

// openOne dials and authenticates one remote connection, emits
// EventOpen, and hands it off to runConnection without waiting for the
// local dial or the bridge to complete.
func (t *Tunnel) openOne() error {
	remote, err := t.remoteDialer.Dial(t.pool)
	if err != nil {
		t.handleRemoteError(err)
		return err
	}

	t.emit(Event{Kind: EventOpen, SessionID: remote.SessionID})

	t.wg.Add(1)
	go t.runConnection(remote)
	return nil
}

// runConnection dials the local service for an already-authenticated
// remote, wires a Bridge, and runs it to completion. remote is not
// read from until local is connected — the Bridge doesn't begin its
// forward loop until Run starts, so no proxied bytes are dropped
// waiting on the local dial.
func (t *Tunnel) runConnection(remote *dialer.RemoteConn) {
	defer t.wg.Done()

	local, err := t.localDialer.Dial()
	if err != nil {
		t.cfg.Logger.Printf("tunnel: local dial failed for session %s: %v", remote.SessionID, err)
		t.pool.Remove(remote)
		remote.Close()
		t.handleRemoteError(err)
		return
	}

	t.emit(Event{Kind: EventConnected, SessionID: remote.SessionID})

	b := bridge.New(t.cfg, remote, local)
	b.Run(func(err error) {
		t.onBridgeEnd(remote, err)
	})
}

func (t *Tunnel) onBridgeEnd(remote *dialer.RemoteConn, err error) {
	t.pool.Remove(remote)

	t.mu.Lock()
	suppressed := t.closed || t.draining
	t.mu.Unlock()
	if suppressed {
		return
	}

	if err != nil {
		t.handleRemoteError(err)
		return
	}
	t.replenishAfterClose()
}

// replenishAfterClose requests exactly one replacement dial to
// preserve steady-state pool size.
func (t *Tunnel) replenishAfterClose() {
	t.mu.Lock()
	suppressed := t.closed || t.draining
	t.mu.Unlock()
	if suppressed {
		return
	}
	go func() {
		if err := t.Open(1); err != nil {
			t.cfg.Logger.Printf("tunnel: replacement dial failed: %v", err)
		}
	}()
}

// handleRemoteError implements the error-driven reconnection policy:
// emit Disconnected on ECONNREFUSED, then — serialized under t.mu so
// the pool-size check and the timer decision are atomic — schedule a
// single delayed Open() if the pool has emptied and nothing else is
// already scheduled.
func (t *Tunnel) handleRemoteError(err error) {
	var rde *dialer.RemoteDialError
	if errors.As(err, &rde) && rde.Refused {
		t.emit(Event{Kind: EventDisconnected, Err: err})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.draining {
		return
	}

	shouldReconnect := t.pool.Size() == 0 && t.reconnectTimer == nil
	if t.cfg.AutoReconnect && shouldReconnect {
		t.reconnectTimer = time.AfterFunc(t.cfg.AutoReconnectInterval, func() {
			t.mu.Lock()
			t.reconnectTimer = nil
			t.mu.Unlock()
			if err := t.Open(0); err != nil {
				t.cfg.Logger.Printf("tunnel: scheduled reconnect failed: %v", err)
			}
		})
	}
}

// scheduleHeartbeat arms the periodic pool refresh: every
// AutoReconnectInterval, the whole pool is torn down and reopened,
// independent of any error.
func (t *Tunnel) scheduleHeartbeat() {
	t.mu.Lock()
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}
	t.reconnectTimer = time.AfterFunc(t.cfg.AutoReconnectInterval, t.fireHeartbeat)
	t.mu.Unlock()
}

func (t *Tunnel) fireHeartbeat() {
	t.mu.Lock()
	t.reconnectTimer = nil
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	t.drain()

	t.mu.Lock()
	closed = t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	if err := t.Open(0); err != nil {
		t.cfg.Logger.Printf("tunnel: heartbeat reopen failed: %v", err)
	}
}

// drain ends every pooled connection without triggering the
// reconnection side effects their closure would normally cause, and
// waits for every in-flight connection goroutine to finish. Used both
// by the heartbeat (drain then reopen) and by the public Close (which
// also marks the tunnel terminally closed).
//
// drain takes opMu itself, the same lock Open holds for its dial
// fan-out, so a replacement dial triggered by a connection closing
// during drain can never run wg.Add concurrently with this func's
// wg.Wait.
func (t *Tunnel) drain() {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	for _, m := range t.pool.Snapshot() {
		m.Close()
	}
	t.wg.Wait()

	t.mu.Lock()
	t.draining = false
	t.mu.Unlock()
}

// Close gracefully tears down every pooled connection, waits for the
// pool to empty, and suppresses any further reconnection. After Close
// returns, PoolSize() == 0 and no further replacement is ever
// scheduled.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.closed = true
	t.state = StateClosed
	t.mu.Unlock()

	t.drain()

	t.emit(Event{Kind: EventClosed})
	return nil
}

// QueryProxyInfo issues the single HTTPS status query against this
// tunnel's own id.
func (t *Tunnel) QueryProxyInfo(extra *statusclient.ExtraOptions) (map[string]interface{}, error) {
	return t.statusClient.Query(t.cfg.Identity().ID(), extra)
}

// URL returns this tunnel's public URL.
func (t *Tunnel) URL() string {
	return t.cfg.Identity().URL(t.cfg.RemoteAddress)
}
