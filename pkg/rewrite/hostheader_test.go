package rewrite

import (
	"bytes"
	"testing"
)

func TestApplyRewritesFirstHostHeaderOnly(t *testing.T) {
	h := New("internal.svc")

	req1 := []byte("GET / HTTP/1.1\r\nHost: public.example\r\n\r\n")
	want1 := []byte("GET / HTTP/1.1\r\nHost: internal.svc\r\n\r\n")
	got1 := h.Apply(req1)
	if !bytes.Equal(got1, want1) {
		t.Fatalf("first Apply = %q, want %q", got1, want1)
	}

	req2 := []byte("GET /again HTTP/1.1\r\nHost: public.example\r\n\r\n")
	got2 := h.Apply(req2)
	if !bytes.Equal(got2, req2) {
		t.Fatalf("second Apply should pass through unchanged, got %q", got2)
	}
}

func TestApplyNoMatchPassesThrough(t *testing.T) {
	h := New("internal.svc")
	chunk := []byte("not an http request at all")
	got := h.Apply(chunk)
	if !bytes.Equal(got, chunk) {
		t.Fatalf("Apply = %q, want unchanged %q", got, chunk)
	}
}

func TestActivePolicy(t *testing.T) {
	if Active("localhost") {
		t.Error("Active(\"localhost\") should be false")
	}
	if !Active("internal.svc") {
		t.Error("Active(\"internal.svc\") should be true")
	}
}
