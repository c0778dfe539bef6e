package identity

import (
	"bytes"
	"strings"
	"testing"
)

func TestIDIsDeterministicAndWellFormed(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, KeySize)

	id1, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id2, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if id1.ID() != id2.ID() {
		t.Fatalf("id not deterministic: %s != %s", id1.ID(), id2.ID())
	}
	if len(id1.ID()) != 40 {
		t.Fatalf("id length = %d, want 40", len(id1.ID()))
	}
	if strings.ToLower(id1.ID()) != id1.ID() {
		t.Fatalf("id %q is not lowercase", id1.ID())
	}
	for _, r := range id1.ID() {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("id %q contains non-hex rune %q", id1.ID(), r)
		}
	}
}

func TestDifferentKeysYieldDifferentIDs(t *testing.T) {
	a, err := New(bytes.Repeat([]byte{0x01}, KeySize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(bytes.Repeat([]byte{0x02}, KeySize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("distinct keys produced the same id %q", a.ID())
	}
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	if _, err := New(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := New(make([]byte, 64)); err == nil {
		t.Fatal("expected error for long key")
	}
}

func TestURL(t *testing.T) {
	id, err := New(bytes.Repeat([]byte{0x01}, KeySize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "https://" + id.ID() + ".example.com"
	if got := id.URL("example.com"); got != want {
		t.Fatalf("URL = %q, want %q", got, want)
	}
}

func TestAliasURL(t *testing.T) {
	want := "https://foo.example.com"
	if got := AliasURL("foo", "example.com"); got != want {
		t.Fatalf("AliasURL = %q, want %q", got, want)
	}
}
