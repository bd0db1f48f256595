package identity

import (
	"crypto/ed25519"
	"encoding/hex"
)

// Identity is a wallet: an ed25519 key whose hex public key is the
// wallet's account address on the ledger. It satisfies types.Signer.
type Identity struct {
	key     ed25519.PrivateKey
	address string
}

// NewIdentity wraps an existing private key.
func NewIdentity(key ed25519.PrivateKey) *Identity {
	pub := key.Public().(ed25519.PublicKey)
	return &Identity{key: key, address: hex.EncodeToString(pub)}
}

// Sign signs a serialized transaction body.
func (i *Identity) Sign(body []byte) []byte {
	return ed25519.Sign(i.key, body)
}

// Verify reports whether sig was produced by this wallet over body.
func (i *Identity) Verify(body, sig []byte) bool {
	return ed25519.Verify(i.PublicKey(), body, sig)
}

func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.key.Public().(ed25519.PublicKey)
}

// PublicKeyHex is the account address that balances, listings and nonces
// are keyed by.
func (i *Identity) PublicKeyHex() string {
	return i.address
}

// String abbreviates the address for log lines.
func (i *Identity) String() string {
	if len(i.address) <= 16 {
		return i.address
	}
	return i.address[:8] + ".." + i.address[len(i.address)-8:]
}
