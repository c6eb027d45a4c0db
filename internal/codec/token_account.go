package codec

import (
	"fmt"

	"heimdall/internal/solana"
)

// SPL token account layout.
const (
	TokenAccountLength      = 165
	TokenAccountOwnerOffset = 32
	tokenAccountStateOffset = 108
)

// TokenAccountState mirrors the SPL account state byte.
type TokenAccountState uint8

const (
	TokenAccountUninitialized TokenAccountState = iota
	TokenAccountInitialized
	TokenAccountFrozen
)

// TokenAccount is the subset of an SPL token account the pipeline needs.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
	State  TokenAccountState
}

// DecodeTokenAccount decodes an SPL token account.
// Uninitialized accounts and unknown states are rejected.
func DecodeTokenAccount(data []byte) (*TokenAccount, error) {
	if len(data) != TokenAccountLength {
		return nil, fmt.Errorf("%w: token account length %d, want %d", ErrDecode, len(data), TokenAccountLength)
	}

	r := &reader{buf: data}
	var (
		acct TokenAccount
		err  error
	)
	if acct.Mint, err = r.pubkey("mint"); err != nil {
		return nil, err
	}
	if acct.Owner, err = r.pubkey("owner"); err != nil {
		return nil, err
	}
	if acct.Amount, err = r.u64("amount"); err != nil {
		return nil, err
	}

	acct.State = TokenAccountState(data[tokenAccountStateOffset])
	switch acct.State {
	case TokenAccountInitialized, TokenAccountFrozen:
	case TokenAccountUninitialized:
		return nil, fmt.Errorf("%w: token account not initialized", ErrDecode)
	default:
		return nil, fmt.Errorf("%w: token account state %d", ErrDecode, acct.State)
	}

	return &acct, nil
}

// EncodeTokenAccount builds a 165-byte token account with no delegate or close authority.
func EncodeTokenAccount(acct TokenAccount) []byte {
	w := &writer{buf: make([]byte, 0, TokenAccountLength)}
	w.pubkey(acct.Mint)
	w.pubkey(acct.Owner)
	w.u64(acct.Amount)
	w.buf = append(w.buf, make([]byte, TokenAccountLength-len(w.buf))...)
	w.buf[tokenAccountStateOffset] = byte(acct.State)
	return w.buf
}
