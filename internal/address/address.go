// Package address defines the identities that own balances: participants,
// escrow fund holders and the fee collector.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the length of an address in bytes.
const Size = 32

var (
	// ErrInvalidAddress is returned when a string does not decode to an address.
	ErrInvalidAddress = errors.New("address: invalid address")
)

// Address is a 32 byte ed25519 public key, displayed as base58.
type Address [Size]byte

// Empty is the reserved "no participant assigned" address.
var Empty Address

// Parse decodes a base58 address string.
func Parse(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != Size {
		return a, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidAddress, len(raw), Size)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromSeed returns the address of the key derived from a seed phrase. Used for
// dev accounts and tests.
func FromSeed(seed string) Address {
	return FromKey(KeyFromSeed(seed))
}

// EscrowOf returns the fund holder address that belongs to a room. No private
// key exists for it, so it can never authenticate.
func EscrowOf(roomID string) Address {
	return Address(sha256.Sum256([]byte("duelescrow/escrow/" + roomID)))
}

// IsEmpty reports whether a is the empty sentinel.
func (a Address) IsEmpty() bool {
	return a == Empty
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Short returns an abbreviated form for logs and tables.
func (a Address) Short() string {
	s := a.String()
	if len(s) <= 10 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	if a.IsEmpty() {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty string decodes
// to Empty.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Empty
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
