// Package types defines the address, signature and digest types shared by the
// host, the builtin programs and the staking program. Each is a fixed-size
// byte array whose text form is base58.
package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Sizes in bytes.
const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

// ErrInvalidLength is returned when decoded bytes do not fit the type.
var ErrInvalidLength = errors.New("invalid length")

func fill(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidLength, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

// Pubkey is an account address: an Ed25519 public key for wallets, or an
// off-curve program-derived address.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58 address.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	data, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("base58 decode %q: %w", s, err)
	}
	return p, fill(p[:], data)
}

// PubkeyFromBytes copies a 32-byte address.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	return p, fill(p[:], b)
}

// PubkeyFromPublicKey converts an Ed25519 public key.
func PubkeyFromPublicKey(pub ed25519.PublicKey) Pubkey {
	var p Pubkey
	copy(p[:], pub)
	return p
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the all-zero address.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Bytes returns p as a slice sharing no memory with the caller's copy.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Signature is an Ed25519 signature.
type Signature [SignatureSize]byte

// Sign signs message with key.
func Sign(key ed25519.PrivateKey, message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(key, message))
	return sig
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// Verify reports whether s is pubkey's signature of message.
func (s Signature) Verify(pubkey Pubkey, message []byte) bool {
	return ed25519.Verify(pubkey[:], message, s[:])
}

// Hash is a 32-byte digest: a transaction id, an account hash or a state hash.
type Hash [HashSize]byte

// ComputeHash returns the SHA-256 digest of data.
func ComputeHash(data []byte) Hash {
	return sha256.Sum256(data)
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero reports whether h is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}
