package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

func TestListingStore_UpsertIdempotent(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	l := &domain.Listing{
		Account:       solana.PublicKey{1},
		Slot:          10,
		ListingRecord: domain.ListingRecord{Name: "a", PoolMintSupply: domain.MaxU128},
	}

	if err := store.UpsertListing(ctx, l); err != nil {
		t.Fatalf("UpsertListing failed: %v", err)
	}
	first, _ := store.GetListing(ctx, l.Account)

	if err := store.UpsertListing(ctx, l); err != nil {
		t.Fatalf("second UpsertListing failed: %v", err)
	}
	second, _ := store.GetListing(ctx, l.Account)

	if store.Count() != 1 {
		t.Errorf("expected 1 row, got %d", store.Count())
	}
	if first.ListingRecord != second.ListingRecord {
		t.Errorf("record changed: %+v != %+v", first.ListingRecord, second.ListingRecord)
	}
	if second.UpdatedAt.Before(first.UpdatedAt) {
		t.Errorf("updated_at went backwards")
	}
}

func TestListingStore_UpdatedAtNeverRegresses(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	l := &domain.Listing{Account: solana.PublicKey{1}}
	_ = store.UpsertListing(ctx, l)

	clock = clock.Add(-time.Hour)
	_ = store.UpsertListing(ctx, l)

	got, _ := store.GetListing(ctx, l.Account)
	if !got.UpdatedAt.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected updated_at to hold, got %v", got.UpdatedAt)
	}
}

func TestListingStore_StaleWrite(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	_ = store.UpsertListing(ctx, &domain.Listing{Account: solana.PublicKey{1}, Slot: 20, ListingRecord: domain.ListingRecord{Name: "new"}})

	err := store.UpsertListing(ctx, &domain.Listing{Account: solana.PublicKey{1}, Slot: 19, ListingRecord: domain.ListingRecord{Name: "old"}})
	if !errors.Is(err, storage.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	got, _ := store.GetListing(ctx, solana.PublicKey{1})
	if got.Name != "new" {
		t.Errorf("stale write modified row: %s", got.Name)
	}
}

func TestListingStore_NotFound(t *testing.T) {
	_, err := NewListingStore().GetListing(context.Background(), solana.PublicKey{1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserAssetStore_CarryForward(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}
	m1 := solana.PublicKey{0x11}

	// Prior snapshot {1.0, [{m1,10}], []}
	if _, err := store.AppendUserSnapshot(ctx, user, 1, domain.SetSolBalance(1_000_000_000, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := store.AppendUserSnapshot(ctx, user, 2, domain.SetTokenHolding(m1, 10, 2)); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, err := store.AppendUserSnapshot(ctx, user, 3, domain.SetSolBalance(2_000_000_000, 3))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if !snap.SolBalance.Equal(decimal.NewFromInt(2)) {
		t.Errorf("sol balance: got %s, want 2", snap.SolBalance)
	}
	if len(snap.TokenHoldings) != 1 || snap.TokenHoldings[0] != (domain.TokenHolding{Mint: m1, Amount: 10}) {
		t.Errorf("holdings not carried forward: %+v", snap.TokenHoldings)
	}
	if string(snap.NFTHoldings) != "[]" {
		t.Errorf("nft holdings: got %s", snap.NFTHoldings)
	}
	if snap.Seq != 3 {
		t.Errorf("seq: got %d, want 3", snap.Seq)
	}

	latest, err := store.GetUserAssets(ctx, user)
	if err != nil {
		t.Fatalf("GetUserAssets: %v", err)
	}
	if latest.Seq != 3 || latest.Slot != 3 {
		t.Errorf("latest: seq %d slot %d", latest.Seq, latest.Slot)
	}
}

func TestUserAssetStore_HistoryIsImmutable(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}

	first, _ := store.AppendUserSnapshot(ctx, user, 1, domain.SetTokenHolding(solana.PublicKey{2}, 5, 1))
	first.TokenHoldings[0].Amount = 999

	history, _ := store.ListUserSnapshots(ctx, user, 0)
	if history[0].TokenHoldings[0].Amount != 5 {
		t.Errorf("stored snapshot was mutated through returned value")
	}
}

func TestUserAssetStore_OlderSlotRejected(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}

	if _, err := store.AppendUserSnapshot(ctx, user, 101, domain.SetSolBalance(2_000_000_000, 101)); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := store.AppendUserSnapshot(ctx, user, 100, domain.SetSolBalance(1_000_000_000, 100))
	if !errors.Is(err, storage.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	latest, _ := store.GetUserAssets(ctx, user)
	if latest.Seq != 1 || !latest.SolBalance.Equal(decimal.NewFromInt(2)) || latest.BalanceSlot != 101 {
		t.Errorf("stale write changed state: seq %d sol %s slot %d", latest.Seq, latest.SolBalance, latest.BalanceSlot)
	}

	// Same slot is not stale.
	if _, err := store.AppendUserSnapshot(ctx, user, 101, domain.SetSolBalance(3_000_000_000, 101)); err != nil {
		t.Errorf("same-slot append: %v", err)
	}
}

func TestUserAssetStore_ConcurrentAppends(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.AppendUserSnapshot(ctx, user, uint64(i), domain.SetTokenHolding(solana.PublicKey{byte(i + 1)}, 1, uint64(i)))
		}(i)
	}
	wg.Wait()

	latest, _ := store.GetUserAssets(ctx, user)
	if latest.Seq != 50 {
		t.Errorf("seq: got %d, want 50", latest.Seq)
	}
	if len(latest.TokenHoldings) != 50 {
		t.Errorf("holdings lost: got %d, want 50", len(latest.TokenHoldings))
	}
}

func TestUserAssetStore_ListLimit(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}

	for i := 0; i < 5; i++ {
		_, _ = store.AppendUserSnapshot(ctx, user, uint64(i), domain.SetSolBalance(uint64(i), uint64(i)))
	}

	got, _ := store.ListUserSnapshots(ctx, user, 2)
	if len(got) != 2 || got[0].Seq != 5 || got[1].Seq != 4 {
		t.Errorf("unexpected page: %d entries", len(got))
	}

	none, _ := store.ListUserSnapshots(ctx, solana.PublicKey{9}, 0)
	if len(none) != 0 {
		t.Errorf("expected empty history")
	}
}

func TestUserAssetStore_EnsureUser(t *testing.T) {
	store := NewUserAssetStore()
	ctx := context.Background()
	user := solana.PublicKey{1}

	_ = store.EnsureUser(ctx, user)
	_ = store.EnsureUser(ctx, user)

	if !store.HasUser(user) {
		t.Error("user not provisioned")
	}
	if _, err := store.GetUserAssets(ctx, user); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListingHistoryStore_OrderedBySlot(t *testing.T) {
	store := NewListingHistoryStore()
	ctx := context.Background()
	account := solana.PublicKey{1}

	for _, slot := range []uint64{30, 10, 20} {
		_ = store.Append(ctx, &domain.Listing{Account: account, Slot: slot})
	}

	got, _ := store.GetByAccount(ctx, account)
	if len(got) != 3 || got[0].Slot != 10 || got[2].Slot != 30 {
		t.Errorf("unexpected order")
	}
}
