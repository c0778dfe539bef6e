// Package handshake defines the challenge/response authentication
// collaborator between a tunnel client and the remote rendezvous server.
//
// The wire shape of the challenge and the signature scheme are treated
// as an opaque external collaborator per the protocol this client
// implements: callers that need byte-for-byte compatibility with a
// specific remote should supply their own Codec. DefaultCodec exists so
// the module is runnable end to end without a second external package.
package handshake

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Challenge is the parsed form of a server-issued challenge blob. The
// remote is defined to send it as a single write; Codec.Parse does no
// reassembly.
type Challenge struct {
	raw []byte
}

// Bytes returns the raw challenge payload.
func (c Challenge) Bytes() []byte {
	return c.raw
}

// Codec parses a challenge blob and signs it with a private key. It is
// the single point of contact with the handshake wire format; this
// package's DefaultCodec is one concrete instance, not the protocol
// definition.
type Codec interface {
	// Parse interprets a single inbound chunk as a challenge.
	Parse(chunk []byte) (Challenge, error)
	// Sign produces the signed response frame for challenge, to be
	// written to the remote connection as a single write.
	Sign(challenge Challenge, privateKey []byte) ([]byte, error)
}

// DefaultCodec parses the challenge as an opaque blob and signs
// SHA-256(challenge) with secp256k1 ECDSA, returning a DER-encoded
// signature as the response frame.
type DefaultCodec struct{}

// Parse treats chunk as the entire challenge; it never fails on a
// non-empty chunk.
func (DefaultCodec) Parse(chunk []byte) (Challenge, error) {
	if len(chunk) == 0 {
		return Challenge{}, fmt.Errorf("handshake: empty challenge")
	}
	raw := make([]byte, len(chunk))
	copy(raw, chunk)
	return Challenge{raw: raw}, nil
}

// Sign signs SHA-256(challenge) with privateKey and returns the
// DER-encoded signature.
func (DefaultCodec) Sign(challenge Challenge, privateKey []byte) ([]byte, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("handshake: private key must be 32 bytes, got %d", len(privateKey))
	}
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	if priv == nil {
		return nil, fmt.Errorf("handshake: invalid private key")
	}
	defer priv.Zero()

	digest := sha256.Sum256(challenge.Bytes())
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize(), nil
}
