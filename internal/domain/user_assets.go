package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"heimdall/internal/solana"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// ErrStaleField is returned by a mutator when the stored field was written at a
// newer slot than the update.
var ErrStaleField = errors.New("field written at a newer slot")

// TokenHolding is one entry of a user's token holdings, keyed by mint.
type TokenHolding struct {
	Mint   solana.PublicKey `json:"mint"`
	Amount uint64           `json:"amount"`
}

// UserAssetSnapshot is one immutable row of a user's asset history.
// Corresponds to user_asset_snapshots table in PostgreSQL.
type UserAssetSnapshot struct {
	User          solana.PublicKey
	Seq           int64  // per-user ordering key, strictly increasing
	Slot          uint64 // slot of the triggering update
	SolBalance    decimal.Decimal
	TokenHoldings []TokenHolding
	NFTHoldings   json.RawMessage // opaque JSON array, carried forward verbatim
	RecordedAt    time.Time

	// BalanceSlot is the slot of the update that last set SolBalance.
	BalanceSlot uint64
	// TokenSlots maps each mint ever seen to the slot of its last update.
	// Removed holdings keep their entry so an older update cannot revive them.
	TokenSlots map[solana.PublicKey]uint64
}

// EmptyNFTHoldings is the default NFT holdings document.
var EmptyNFTHoldings = json.RawMessage(`[]`)

// EmptyUserAssetSnapshot returns the state of a user with no history.
func EmptyUserAssetSnapshot(user solana.PublicKey) UserAssetSnapshot {
	return UserAssetSnapshot{
		User:          user,
		SolBalance:    decimal.Zero,
		TokenHoldings: []TokenHolding{},
		NFTHoldings:   append(json.RawMessage(nil), EmptyNFTHoldings...),
		TokenSlots:    map[solana.PublicKey]uint64{},
	}
}

// Clone returns a deep copy so mutators never alias stored state.
func (s UserAssetSnapshot) Clone() UserAssetSnapshot {
	out := s
	out.TokenHoldings = append([]TokenHolding{}, s.TokenHoldings...)
	if s.NFTHoldings != nil {
		out.NFTHoldings = append(json.RawMessage(nil), s.NFTHoldings...)
	}
	out.TokenSlots = make(map[solana.PublicKey]uint64, len(s.TokenSlots))
	for mint, slot := range s.TokenSlots {
		out.TokenSlots[mint] = slot
	}
	return out
}

// LamportsToSOL converts lamports to SOL exactly.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}

// MergeTokenHolding removes any entry for mint, then appends {mint, amount} if amount > 0.
// The input slice is not modified.
func MergeTokenHolding(holdings []TokenHolding, mint solana.PublicKey, amount uint64) []TokenHolding {
	out := make([]TokenHolding, 0, len(holdings)+1)
	for _, h := range holdings {
		if h.Mint != mint {
			out = append(out, h)
		}
	}
	if amount > 0 {
		out = append(out, TokenHolding{Mint: mint, Amount: amount})
	}
	return out
}

// SetSolBalance returns a mutator that replaces only the SOL balance.
// It fails with ErrStaleField if the balance was set at a newer slot.
func SetSolBalance(lamports, slot uint64) func(UserAssetSnapshot) (UserAssetSnapshot, error) {
	return func(prev UserAssetSnapshot) (UserAssetSnapshot, error) {
		if prev.BalanceSlot > slot {
			return prev, ErrStaleField
		}
		prev.SolBalance = LamportsToSOL(lamports)
		prev.BalanceSlot = slot
		return prev, nil
	}
}

// SetTokenHolding returns a mutator that merges one token holding.
// It fails with ErrStaleField if mint was updated at a newer slot.
func SetTokenHolding(mint solana.PublicKey, amount, slot uint64) func(UserAssetSnapshot) (UserAssetSnapshot, error) {
	return func(prev UserAssetSnapshot) (UserAssetSnapshot, error) {
		if prev.TokenSlots[mint] > slot {
			return prev, ErrStaleField
		}
		prev.TokenHoldings = MergeTokenHolding(prev.TokenHoldings, mint, amount)
		if prev.TokenSlots == nil {
			prev.TokenSlots = map[solana.PublicKey]uint64{}
		}
		prev.TokenSlots[mint] = slot
		return prev, nil
	}
}
