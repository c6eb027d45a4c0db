package storage

import (
	"context"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// SnapshotMutator derives the next user snapshot from the latest one.
// It receives a private copy and may modify it freely. A mutator returning
// domain.ErrStaleField makes the append fail with ErrStaleWrite.
type SnapshotMutator func(prev domain.UserAssetSnapshot) (domain.UserAssetSnapshot, error)

// ListingStore provides access to the listings projection.
type ListingStore interface {
	// UpsertListing inserts or replaces the row for l.Account in one atomic statement
	// and sets l.UpdatedAt to the stored value. Returns ErrStaleWrite if the stored
	// row has a newer slot.
	UpsertListing(ctx context.Context, l *domain.Listing) error

	// GetListing retrieves the current row. Returns ErrNotFound if not exists.
	GetListing(ctx context.Context, account solana.PublicKey) (*domain.Listing, error)
}

// UserAssetStore provides access to the append-only user asset history.
type UserAssetStore interface {
	// EnsureUser provisions per-user bookkeeping. Idempotent.
	EnsureUser(ctx context.Context, user solana.PublicKey) error

	// AppendUserSnapshot applies mutate to the latest snapshot (or the empty default)
	// and appends the result with the next sequence number. Appends for the same
	// user are serialized. Nothing is appended when mutate fails.
	AppendUserSnapshot(ctx context.Context, user solana.PublicKey, slot uint64, mutate SnapshotMutator) (*domain.UserAssetSnapshot, error)

	// GetUserAssets retrieves the snapshot with the greatest sequence number.
	// Returns ErrNotFound if the user has no history.
	GetUserAssets(ctx context.Context, user solana.PublicKey) (*domain.UserAssetSnapshot, error)

	// ListUserSnapshots returns up to limit snapshots, newest first. limit <= 0 means all.
	ListUserSnapshots(ctx context.Context, user solana.PublicKey, limit int) ([]*domain.UserAssetSnapshot, error)
}

// ProjectionStore owns every persisted row of the pipeline.
type ProjectionStore interface {
	ListingStore
	UserAssetStore
}

// ListingHistoryStore is an append-only log of every committed listing write.
type ListingHistoryStore interface {
	// Append records one committed listing state.
	Append(ctx context.Context, l *domain.Listing) error

	// GetByAccount returns the history of account ordered by slot ASC.
	GetByAccount(ctx context.Context, account solana.PublicKey) ([]*domain.Listing, error)
}
