// Package identity derives a tunnel's stable public identity from its
// private key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160"
)

// KeySize is the required length, in bytes, of a tunnel private key.
const KeySize = 32

// Identity is the deterministic, pure-function identity derived from a
// 32-byte private key: RIPEMD160(SHA256(secp256k1 pubkey)), rendered as
// lowercase hex. It is stable for the lifetime of the tunnel; besides the
// id it holds only a copy of the private key it was derived from.
type Identity struct {
	privateKey [KeySize]byte
	id         string
}

// New validates privateKey and derives its Identity. privateKey must be
// exactly KeySize bytes and must be a valid secp256k1 scalar.
func New(privateKey []byte) (*Identity, error) {
	if len(privateKey) != KeySize {
		return nil, fmt.Errorf("identity: private key must be %d bytes, got %d", KeySize, len(privateKey))
	}

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(privateKey); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("identity: invalid secp256k1 private key")
	}
	scalar.Zero()

	priv := secp256k1.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	pub := priv.PubKey().SerializeCompressed()

	sum := sha256.Sum256(pub)
	ripe := ripemd160.New()
	ripe.Write(sum[:])

	id := &Identity{id: hex.EncodeToString(ripe.Sum(nil))}
	copy(id.privateKey[:], privateKey)
	return id, nil
}

// ID returns the 40-character lowercase hex tunnel identifier.
func (i *Identity) ID() string {
	return i.id
}

// PrivateKey returns a copy of the 32-byte private key backing this
// identity, for handing to a handshake signer.
func (i *Identity) PrivateKey() []byte {
	out := make([]byte, KeySize)
	copy(out, i.privateKey[:])
	return out
}

// URL returns the public tunnel URL for the given remote address, e.g.
// "https://<id>.example.com".
func (i *Identity) URL(remoteAddress string) string {
	return "https://" + i.id + "." + remoteAddress
}

// AliasURL returns the public tunnel URL for a caller-supplied alias
// instead of the derived id, e.g. "https://<alias>.example.com".
func AliasURL(alias, remoteAddress string) string {
	return "https://" + alias + "." + remoteAddress
}
