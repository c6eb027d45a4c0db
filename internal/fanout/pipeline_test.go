package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heimdall/internal/changebus"
	"heimdall/internal/codec"
	"heimdall/internal/config"
	"heimdall/internal/domain"
	"heimdall/internal/fanout"
	"heimdall/internal/ingestion"
	"heimdall/internal/solana"
	"heimdall/internal/storage/memory"
	"heimdall/internal/wire"
)

// Ingested listings reach every subscriber through the bus, in commit order,
// carrying the stored row.
func TestPipeline_IngestToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	program := solana.PublicKey{0xB1}
	store := memory.NewProjectionStore()
	bus := changebus.NewMemoryBus()

	filter := ingestion.NewFilter(ingestion.FilterOptions{
		Watch: config.NewWatchConfig([]solana.PublicKey{program}, nil),
		Store: store,
		Bus:   bus,
	})

	// The feed outlives ctx so cancellation, not feed closure, stops Run.
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	events, err := bus.Subscribe(busCtx)
	require.NoError(t, err)

	d := fanout.NewDispatcher(fanout.Options{Store: store})
	subs := []*fanout.Subscription{
		d.Subscribe(fanout.Filter{}),
		d.Subscribe(fanout.NewFilter([]solana.PublicKey{program}, []domain.ChangeKind{domain.ListingChanged})),
	}
	for _, sub := range subs {
		defer sub.Close()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx, events) }()

	records := []domain.ListingRecord{
		{
			Name:           "first",
			Seed:           1,
			Mint:           solana.PublicKey{0xD1},
			FundingGoal:    1_000,
			PoolMintSupply: domain.MaxU128,
			BasePrice:      0.5,
			Bump:           255,
		},
		{
			Name:            "second",
			Seed:            2,
			Mint:            solana.PublicKey{0xD2},
			FundingGoal:     2_000,
			FundingRaised:   150,
			AvailableTokens: domain.U128FromUint64(42),
			TokensSold:      domain.U128FromUint64(7),
			BasePrice:       1.25,
			VaultBump:       9,
			MintBump:        3,
		},
	}
	accounts := []solana.PublicKey{{0xC1}, {0xC2}}

	for i, rec := range records {
		report, err := filter.UpdateAccount(ctx, domain.AccountUpdate{
			Pubkey:  accounts[i],
			Owner:   program,
			Data:    codec.EncodeListing([8]byte{9, 9, 9, 9, 9, 9, 9, 9}, &rec),
			Slot:    uint64(100 + i),
			Version: domain.SchemaV3,
		})
		require.NoError(t, err)
		step, ok := report.Step(ingestion.BranchListing)
		require.True(t, ok)
		require.Equal(t, ingestion.OutcomeWritten, step.Outcome)
		require.True(t, step.Published)
	}

	// The rows are in the store and the bus carried one event per commit.
	var want []*wire.Listing
	for _, account := range accounts {
		row, err := store.GetListing(ctx, account)
		require.NoError(t, err)
		want = append(want, wire.EncodeListing(row))
	}
	assert.Equal(t, []domain.ChangeEvent{
		{Subject: accounts[0], Kind: domain.ListingChanged},
		{Subject: accounts[1], Kind: domain.ListingChanged},
	}, bus.Published())
	assert.Equal(t, "first", want[0].Name)
	assert.Equal(t, domain.MaxU128.String(), want[0].PoolMintSupply)
	assert.Equal(t, uint64(101), want[1].Slot)

	for i, sub := range subs {
		var got []*wire.Listing
		for len(got) < len(want) {
			select {
			case u := <-sub.Updates():
				require.NotNil(t, u.Response.Listing, "subscriber %d", i)
				assert.Nil(t, u.Response.UserAssets)
				got = append(got, u.Response.Listing)
			case <-time.After(2 * time.Second):
				t.Fatalf("subscriber %d received %d of %d listings", i, len(got), len(want))
			}
		}
		assert.Equal(t, want, got, "subscriber %d", i)
	}

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
