package bridge

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/tacticalchihuahua/diglet/pkg/config"
	"github.com/tacticalchihuahua/diglet/pkg/dialer"
)

func testConfig(t *testing.T, localAddress string) *config.TunnelConfig {
	t.Helper()
	cfg, err := config.New(localAddress, 8080, "example.com", 443)
	if err != nil {
		t.Fatalf("config.New: %v", err)
	}
	return cfg
}

func TestBridgeDoesNotRewriteHostHeaderForLoopbackTarget(t *testing.T) {
	cfg := testConfig(t, "localhost")

	remoteFar, remoteNear := net.Pipe()
	localFar, localNear := net.Pipe()

	b := New(cfg, &dialer.RemoteConn{Conn: remoteNear, SessionID: "s1"}, localNear)

	done := make(chan struct{})
	go func() {
		b.Run(nil)
		close(done)
	}()

	req := []byte("GET / HTTP/1.1\r\nHost: public.example\r\n\r\n")
	go remoteFar.Write(req)

	buf := make([]byte, len(req))
	if _, err := io.ReadFull(localFar, buf); err != nil {
		t.Fatalf("reading from local: %v", err)
	}
	if string(buf) != string(req) {
		t.Fatalf("localhost target should not be rewritten: got %q", buf)
	}

	remoteFar.Close()
	localFar.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after both sides closed")
	}
}

func TestBridgeRewritesHostHeaderForNonLoopbackTarget(t *testing.T) {
	cfg := testConfig(t, "internal.svc")

	remoteFar, remoteNear := net.Pipe()
	localFar, localNear := net.Pipe()

	b := New(cfg, &dialer.RemoteConn{Conn: remoteNear, SessionID: "s1"}, localNear)

	done := make(chan struct{})
	go func() {
		b.Run(nil)
		close(done)
	}()

	req := []byte("GET / HTTP/1.1\r\nHost: public.example\r\n\r\n")
	want := []byte("GET / HTTP/1.1\r\nHost: internal.svc\r\n\r\n")
	go remoteFar.Write(req)

	buf := make([]byte, len(want))
	if _, err := io.ReadFull(localFar, buf); err != nil {
		t.Fatalf("reading from local: %v", err)
	}
	if string(buf) != string(want) {
		t.Fatalf("got %q, want %q", buf, want)
	}

	// A second request on the same bridge is not rewritten again.
	req2 := []byte("GET /again HTTP/1.1\r\nHost: public.example\r\n\r\n")
	go remoteFar.Write(req2)
	buf2 := make([]byte, len(req2))
	if _, err := io.ReadFull(localFar, buf2); err != nil {
		t.Fatalf("reading second request: %v", err)
	}
	if string(buf2) != string(req2) {
		t.Fatalf("second request should pass through unrewritten: got %q", buf2)
	}

	remoteFar.Close()
	localFar.Close()
	<-done
}

func TestBridgeReverseDirectionIsUntransformed(t *testing.T) {
	cfg := testConfig(t, "internal.svc")

	remoteFar, remoteNear := net.Pipe()
	localFar, localNear := net.Pipe()

	b := New(cfg, &dialer.RemoteConn{Conn: remoteNear, SessionID: "s1"}, localNear)

	done := make(chan struct{})
	go func() {
		b.Run(nil)
		close(done)
	}()

	msg := []byte("HTTP/1.1 200 OK\r\n\r\nhello")
	go localFar.Write(msg)

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(remoteFar, buf); err != nil {
		t.Fatalf("reading from remote: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("reverse path should be untransformed: got %q", buf)
	}

	remoteFar.Close()
	localFar.Close()
	<-done
}

func TestBridgeRunInvokesOnEndExactlyOnce(t *testing.T) {
	cfg := testConfig(t, "internal.svc")
	remoteFar, remoteNear := net.Pipe()
	localFar, localNear := net.Pipe()

	b := New(cfg, &dialer.RemoteConn{Conn: remoteNear, SessionID: "s1"}, localNear)

	calls := make(chan struct{}, 2)
	done := make(chan struct{})
	go func() {
		b.Run(func(error) { calls <- struct{}{} })
		close(done)
	}()

	remoteFar.Close()
	localFar.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	if len(calls) != 1 {
		t.Fatalf("onEnd invoked %d times, want 1", len(calls))
	}
}

// TestBridgeRemoteCloseAloneEndsRunAndClosesLocal is scenario S2: the
// remote side closes while the local side is otherwise live and idle
// (no reason of its own to return from Read). Run must notice the
// remote's close, tear down the local side too, and invoke onEnd
// promptly instead of hanging forever waiting on a local leg that
// never naturally ends.
func TestBridgeRemoteCloseAloneEndsRunAndClosesLocal(t *testing.T) {
	cfg := testConfig(t, "internal.svc")
	remoteFar, remoteNear := net.Pipe()
	localFar, localNear := net.Pipe()

	b := New(cfg, &dialer.RemoteConn{Conn: remoteNear, SessionID: "s1"}, localNear)

	done := make(chan struct{})
	var gotErr error
	go func() {
		b.Run(func(err error) { gotErr = err })
		close(done)
	}()

	// Only the remote side closes; localFar is left open and idle.
	remoteFar.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the remote side alone closed")
	}
	if gotErr != nil {
		t.Fatalf("onEnd err = %v, want nil for an ordinary remote close", gotErr)
	}

	// Local must have been closed too: writes to its far end now fail.
	if _, err := localFar.Write([]byte("x")); err == nil {
		t.Fatal("expected local side to be closed once the remote side ended")
	}
}
