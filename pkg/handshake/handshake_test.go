package handshake

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

func TestDefaultCodecParseRejectsEmpty(t *testing.T) {
	var c DefaultCodec
	if _, err := c.Parse(nil); err == nil {
		t.Fatal("expected error for empty challenge")
	}
}

func TestDefaultCodecSignVerifies(t *testing.T) {
	var c DefaultCodec
	key := bytes.Repeat([]byte{0x07}, 32)

	challenge, err := c.Parse([]byte("prove-you-hold-the-key"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	resp, err := c.Sign(challenge, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sig, err := ecdsa.ParseDERSignature(resp)
	if err != nil {
		t.Fatalf("response is not a DER signature: %v", err)
	}

	priv := secp256k1.PrivKeyFromBytes(key)
	pub := priv.PubKey()

	digest := sha256.Sum256(challenge.Bytes())
	if !sig.Verify(digest[:], pub) {
		t.Fatal("signature does not verify against the signing key's public key")
	}
}

func TestDefaultCodecSignRejectsBadKeyLength(t *testing.T) {
	var c DefaultCodec
	challenge, _ := c.Parse([]byte("x"))
	if _, err := c.Sign(challenge, []byte{0x01}); err == nil {
		t.Fatal("expected error for short key")
	}
}
