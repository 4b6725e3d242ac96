package crypto

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"fmt"
)

// PubKeySize and SignatureSize match the wire format: a 32-byte Ed25519
// public key followed by a 64-byte signature.
const (
	PubKeySize    = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// GenerateKey produces a fresh Ed25519 keypair for a validator.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(cryptorand.Reader)
}

// Sign signs body with priv, returning a SignatureSize-byte signature.
func Sign(priv ed25519.PrivateKey, body []byte) []byte {
	return ed25519.Sign(priv, body)
}

// Verify reports whether sig is a valid Ed25519 signature of body under pub.
func Verify(pub ed25519.PublicKey, body, sig []byte) bool {
	if len(pub) != PubKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(pub, body, sig)
}

// ParsePublicKey validates that b is a well-formed Ed25519 public key.
func ParsePublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) != PubKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", PubKeySize, len(b))
	}
	pub := make(ed25519.PublicKey, PubKeySize)
	copy(pub, b)
	return pub, nil
}
