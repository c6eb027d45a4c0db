package clickhouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage/clickhouse"
)

func TestListingHistoryStore_AppendAndGet(t *testing.T) {
	conn := setupTestDB(t)

	ctx := context.Background()
	store := clickhouse.NewListingHistoryStore(conn)

	account := solana.PublicKey{1}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, slot := range []uint64{20, 10} {
		l := &domain.Listing{
			Account:   account,
			Program:   solana.PublicKey{2},
			Slot:      slot,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
			ListingRecord: domain.ListingRecord{
				Name:            "Genesis",
				Seed:            ^uint64(0),
				Mint:            solana.PublicKey{3},
				PoolMintSupply:  domain.MaxU128,
				AvailableTokens: domain.U128{Hi: 1},
				BasePrice:       1.5,
				Bump:            255,
			},
		}
		require.NoError(t, store.Append(ctx, l))
	}

	got, err := store.GetByAccount(ctx, account)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(10), got[0].Slot)
	assert.Equal(t, uint64(20), got[1].Slot)
	assert.Equal(t, domain.MaxU128, got[0].PoolMintSupply)
	assert.Equal(t, domain.U128{Hi: 1}, got[0].AvailableTokens)
	assert.Equal(t, ^uint64(0), got[0].Seed)
	assert.Equal(t, uint8(255), got[0].Bump)
	assert.True(t, got[1].UpdatedAt.Equal(base))
}

func TestListingHistoryStore_UnknownAccount(t *testing.T) {
	conn := setupTestDB(t)

	got, err := clickhouse.NewListingHistoryStore(conn).GetByAccount(context.Background(), solana.PublicKey{9})
	require.NoError(t, err)
	assert.Empty(t, got)
}
