package domain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

// ErrInvalidU128 is returned when text is not an unsigned 128-bit decimal.
var ErrInvalidU128 = errors.New("invalid u128")

// U128 is an unsigned 128-bit integer stored as two 64-bit words.
// It is rendered as a decimal string everywhere it leaves the process.
type U128 struct {
	Hi uint64
	Lo uint64
}

// MaxU128 is 2^128 - 1.
var MaxU128 = U128{Hi: ^uint64(0), Lo: ^uint64(0)}

// U128FromUint64 widens v.
func U128FromUint64(v uint64) U128 {
	return U128{Lo: v}
}

// U128FromLittleEndian reads 16 little-endian bytes.
func U128FromLittleEndian(b []byte) U128 {
	return U128{
		Lo: binary.LittleEndian.Uint64(b[:8]),
		Hi: binary.LittleEndian.Uint64(b[8:16]),
	}
}

// PutLittleEndian writes the value into 16 bytes of b.
func (u U128) PutLittleEndian(b []byte) {
	binary.LittleEndian.PutUint64(b[:8], u.Lo)
	binary.LittleEndian.PutUint64(b[8:16], u.Hi)
}

// IsZero reports whether u == 0.
func (u U128) IsZero() bool {
	return u.Hi == 0 && u.Lo == 0
}

// Big returns u as a big.Int.
func (u U128) Big() *big.Int {
	v := new(big.Int).SetUint64(u.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(u.Lo))
}

// String returns the decimal representation.
func (u U128) String() string {
	if u.Hi == 0 {
		return strconv.FormatUint(u.Lo, 10)
	}
	return u.Big().String()
}

// ParseU128 parses a base-10 unsigned integer that fits in 128 bits.
func ParseU128(s string) (U128, error) {
	if s == "" {
		return U128{}, fmt.Errorf("%w: empty", ErrInvalidU128)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return U128{}, fmt.Errorf("%w: %q", ErrInvalidU128, s)
		}
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.BitLen() > 128 {
		return U128{}, fmt.Errorf("%w: %q out of range", ErrInvalidU128, s)
	}

	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return U128{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (u U128) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *U128) UnmarshalText(text []byte) error {
	v, err := ParseU128(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// MarshalJSON encodes u as a quoted decimal so JSON consumers never coerce it to a float.
func (u U128) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(u.String())), nil
}

// UnmarshalJSON accepts both quoted and bare decimal numbers.
func (u *U128) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return u.UnmarshalText(data)
}
