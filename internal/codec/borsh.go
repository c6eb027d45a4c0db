// Package codec decodes account payloads into domain records.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// ErrDecode is returned for any malformed payload.
var ErrDecode = errors.New("decode error")

// reader consumes little-endian Borsh fields from a byte slice.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int, field string) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, fmt.Errorf("%w: %s: need %d bytes at offset %d, have %d", ErrDecode, field, n, r.off, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8(field string) (uint8, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u32(field string) (uint32, error) {
	b, err := r.take(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64(field string) (uint64, error) {
	b, err := r.take(8, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) u128(field string) (domain.U128, error) {
	b, err := r.take(16, field)
	if err != nil {
		return domain.U128{}, err
	}
	return domain.U128FromLittleEndian(b), nil
}

func (r *reader) f64(field string) (float64, error) {
	v, err := r.u64(field)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *reader) pubkey(field string) (solana.PublicKey, error) {
	b, err := r.take(solana.PublicKeyLength, field)
	if err != nil {
		return solana.PublicKey{}, err
	}
	var pk solana.PublicKey
	copy(pk[:], b)
	return pk, nil
}

func (r *reader) string(field string) (string, error) {
	n, err := r.u32(field + " length")
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return "", fmt.Errorf("%w: %s: length %d exceeds remaining %d bytes", ErrDecode, field, n, len(r.buf)-r.off)
	}
	b, err := r.take(int(n), field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s: invalid UTF-8", ErrDecode, field)
	}
	return string(b), nil
}

// finish accepts trailing bytes only when they are all zero (account padding).
func (r *reader) finish() error {
	for i, b := range r.buf[r.off:] {
		if b != 0 {
			return fmt.Errorf("%w: non-zero trailing byte at offset %d", ErrDecode, r.off+i)
		}
	}
	return nil
}

// writer appends little-endian Borsh fields.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *writer) u128(v domain.U128) {
	var b [16]byte
	v.PutLittleEndian(b[:])
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) f64(v float64) { w.u64(math.Float64bits(v)) }

func (w *writer) pubkey(pk solana.PublicKey) { w.buf = append(w.buf, pk[:]...) }

func (w *writer) string(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}
