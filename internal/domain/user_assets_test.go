package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/solana"
)

var (
	mint1 = solana.PublicKey{1}
	mint2 = solana.PublicKey{2}
)

func TestMergeTokenHolding(t *testing.T) {
	tests := []struct {
		name     string
		holdings []TokenHolding
		mint     solana.PublicKey
		amount   uint64
		want     []TokenHolding
	}{
		{
			name:     "zero amount deletes",
			holdings: []TokenHolding{{Mint: mint1, Amount: 10}},
			mint:     mint1,
			amount:   0,
			want:     []TokenHolding{},
		},
		{
			name:     "insert into empty",
			holdings: nil,
			mint:     mint2,
			amount:   5,
			want:     []TokenHolding{{Mint: mint2, Amount: 5}},
		},
		{
			name:     "replace moves entry to end",
			holdings: []TokenHolding{{Mint: mint1, Amount: 10}, {Mint: mint2, Amount: 5}},
			mint:     mint1,
			amount:   20,
			want:     []TokenHolding{{Mint: mint2, Amount: 5}, {Mint: mint1, Amount: 20}},
		},
		{
			name:     "zero on absent mint is a no-op",
			holdings: []TokenHolding{{Mint: mint2, Amount: 5}},
			mint:     mint1,
			amount:   0,
			want:     []TokenHolding{{Mint: mint2, Amount: 5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeTokenHolding(tt.holdings, tt.mint, tt.amount)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMergeTokenHolding_Idempotent(t *testing.T) {
	start := []TokenHolding{{Mint: mint1, Amount: 10}, {Mint: mint2, Amount: 5}}

	once := MergeTokenHolding(start, mint1, 20)
	twice := MergeTokenHolding(once, mint1, 20)

	assert.Equal(t, once, twice)
	// Input is never modified in place.
	assert.Equal(t, uint64(10), start[0].Amount)
}

func TestLamportsToSOL(t *testing.T) {
	assert.True(t, LamportsToSOL(2_500_000_000).Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "2.5", LamportsToSOL(2_500_000_000).String())
	assert.Equal(t, "0.000000001", LamportsToSOL(1).String())
	assert.True(t, LamportsToSOL(0).IsZero())

	// Values above int64 range stay exact.
	assert.Equal(t, "18446744073.709551615", LamportsToSOL(^uint64(0)).String())
}

func TestSetSolBalance_CarriesForward(t *testing.T) {
	prev := EmptyUserAssetSnapshot(mint1)
	prev.SolBalance = decimal.NewFromInt(1)
	prev.TokenHoldings = []TokenHolding{{Mint: mint2, Amount: 10}}

	next, err := SetSolBalance(2_000_000_000, 5)(prev.Clone())
	require.NoError(t, err)

	assert.True(t, next.SolBalance.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, uint64(5), next.BalanceSlot)
	assert.Equal(t, []TokenHolding{{Mint: mint2, Amount: 10}}, next.TokenHoldings)
	assert.JSONEq(t, `[]`, string(next.NFTHoldings))
}

func TestSetTokenHolding_CarriesForward(t *testing.T) {
	prev := EmptyUserAssetSnapshot(mint1)
	prev.SolBalance = decimal.RequireFromString("3.25")
	prev.NFTHoldings = json.RawMessage(`[{"id":1}]`)

	next, err := SetTokenHolding(mint2, 7, 3)(prev.Clone())
	require.NoError(t, err)

	assert.True(t, next.SolBalance.Equal(decimal.RequireFromString("3.25")))
	assert.Equal(t, []TokenHolding{{Mint: mint2, Amount: 7}}, next.TokenHoldings)
	assert.Equal(t, uint64(3), next.TokenSlots[mint2])
	assert.JSONEq(t, `[{"id":1}]`, string(next.NFTHoldings))
	assert.Empty(t, prev.TokenHoldings)
	assert.Empty(t, prev.TokenSlots)
}

func TestMutators_RejectOlderSlot(t *testing.T) {
	prev := EmptyUserAssetSnapshot(mint1)
	prev, err := SetSolBalance(2_000_000_000, 101)(prev)
	require.NoError(t, err)
	prev, err = SetTokenHolding(mint2, 0, 101)(prev)
	require.NoError(t, err)

	_, err = SetSolBalance(1_000_000_000, 100)(prev.Clone())
	assert.ErrorIs(t, err, ErrStaleField)

	// The removed holding keeps its slot.
	_, err = SetTokenHolding(mint2, 9, 100)(prev.Clone())
	assert.ErrorIs(t, err, ErrStaleField)

	next, err := SetTokenHolding(mint1, 9, 100)(prev.Clone())
	require.NoError(t, err)
	assert.Equal(t, []TokenHolding{{Mint: mint1, Amount: 9}}, next.TokenHoldings)

	next, err = SetSolBalance(1_000_000_000, 101)(prev.Clone())
	require.NoError(t, err)
	assert.True(t, next.SolBalance.Equal(decimal.NewFromInt(1)))
}

func TestTokenHolding_JSON(t *testing.T) {
	data, err := json.Marshal([]TokenHolding{{Mint: solana.TokenProgram, Amount: 42}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"mint":"`+solana.TokenProgramID+`","amount":42}]`, string(data))
}

func TestUserAssetSnapshot_Clone(t *testing.T) {
	s := EmptyUserAssetSnapshot(mint1)
	s.TokenHoldings = append(s.TokenHoldings, TokenHolding{Mint: mint2, Amount: 1})

	s.TokenSlots[mint2] = 4

	c := s.Clone()
	c.TokenHoldings[0].Amount = 99
	c.NFTHoldings[0] = '{'
	c.TokenSlots[mint2] = 8

	assert.Equal(t, uint64(1), s.TokenHoldings[0].Amount)
	assert.Equal(t, "[]", string(s.NFTHoldings))
	assert.Equal(t, uint64(4), s.TokenSlots[mint2])
}
