package address

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrInvalidKey is returned when a string does not decode to a private key.
var ErrInvalidKey = errors.New("address: invalid private key")

// KeyFromSeed derives a private key from a seed phrase.
func KeyFromSeed(seed string) ed25519.PrivateKey {
	sum := sha256.Sum256([]byte("duelescrow/seed/" + seed))
	return ed25519.NewKeyFromSeed(sum[:])
}

// ParseKey decodes a base58 encoded 32 byte private key seed.
func ParseKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// EncodeKey returns the base58 form of a private key, as read by ParseKey.
func EncodeKey(key ed25519.PrivateKey) string {
	return base58.Encode(key.Seed())
}

// FromPublicKey converts an ed25519 public key to an address.
func FromPublicKey(pub ed25519.PublicKey) Address {
	var a Address
	copy(a[:], pub)
	return a
}

// FromKey returns the address of a private key.
func FromKey(key ed25519.PrivateKey) Address {
	return FromPublicKey(key.Public().(ed25519.PublicKey))
}

// Sign signs msg with key and returns the base58 signature.
func Sign(key ed25519.PrivateKey, msg []byte) string {
	return base58.Encode(ed25519.Sign(key, msg))
}

// Verify reports whether signature is a valid base58 signature of msg by the
// key behind a.
func (a Address) Verify(msg []byte, signature string) bool {
	if a.IsEmpty() {
		return false
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(a[:]), msg, sig)
}
