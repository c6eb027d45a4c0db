package solana

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size of an account address in bytes.
const PublicKeyLength = 32

// base58Alphabet is the Bitcoin alphabet used for Solana addresses.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Well-known program IDs.
const (
	TokenProgramID  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	SystemProgramID = "11111111111111111111111111111111"
)

// ErrInvalidPublicKey is returned when an address is not a valid base58 32-byte key.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a raw 32-byte account address.
// Comparisons use the raw form; String renders base58.
type PublicKey [PublicKeyLength]byte

// TokenProgram is the parsed SPL token program ID.
var TokenProgram = MustParsePublicKey(TokenProgramID)

// ParsePublicKey parses a base58 address.
// Characters outside the base58 alphabet are rejected before decoding.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey

	s = strings.TrimSpace(s)
	if s == "" {
		return pk, fmt.Errorf("%w: empty", ErrInvalidPublicKey)
	}
	if i := strings.IndexFunc(s, func(r rune) bool { return !strings.ContainsRune(base58Alphabet, r) }); i >= 0 {
		r, _ := utf8.DecodeRuneInString(s[i:])
		return pk, fmt.Errorf("%w: illegal character %q at %d", ErrInvalidPublicKey, r, i)
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeyLength {
		return pk, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidPublicKey, len(raw), PublicKeyLength)
	}

	copy(pk[:], raw)
	return pk, nil
}

// MustParsePublicKey parses a base58 address and panics on failure.
// Only for compile-time constants.
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies a 32-byte slice into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: length %d, want %d", ErrInvalidPublicKey, len(b), PublicKeyLength)
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the base58 encoding.
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// Bytes returns a copy of the raw key.
func (pk PublicKey) Bytes() []byte {
	out := make([]byte, PublicKeyLength)
	copy(out, pk[:])
	return out
}

// IsZero reports whether every byte is zero.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// IsOnCurve reports whether the key is a valid ed25519 point.
// Wallet keys are on the curve; program-derived addresses are not.
func (pk PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
