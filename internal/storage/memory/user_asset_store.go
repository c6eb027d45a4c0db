package memory

import (
	"context"
	"sync"
	"time"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// UserAssetStore is an in-memory implementation of storage.UserAssetStore.
// A single mutex serializes appends, which is stronger than the per-user
// ordering the interface requires.
type UserAssetStore struct {
	mu        sync.RWMutex
	snapshots map[solana.PublicKey][]domain.UserAssetSnapshot // ascending seq
	users     map[solana.PublicKey]struct{}
}

// NewUserAssetStore creates a new in-memory user asset store.
func NewUserAssetStore() *UserAssetStore {
	return &UserAssetStore{
		snapshots: make(map[solana.PublicKey][]domain.UserAssetSnapshot),
		users:     make(map[solana.PublicKey]struct{}),
	}
}

// Compile-time interface check.
var _ storage.UserAssetStore = (*UserAssetStore)(nil)

// EnsureUser records user. Idempotent.
func (s *UserAssetStore) EnsureUser(_ context.Context, user solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = struct{}{}
	return nil
}

// AppendUserSnapshot appends mutate(latest) with the next sequence number.
func (s *UserAssetStore) AppendUserSnapshot(_ context.Context, user solana.PublicKey, slot uint64, mutate storage.SnapshotMutator) (*domain.UserAssetSnapshot, error) {
	if mutate == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user] = struct{}{}

	history := s.snapshots[user]
	prev := domain.EmptyUserAssetSnapshot(user)
	if len(history) > 0 {
		prev = history[len(history)-1]
	}

	next, err := storage.ApplyMutator(prev, mutate)
	if err != nil {
		return nil, err
	}
	next.User = user
	next.Seq = int64(len(history)) + 1
	next.Slot = slot
	next.RecordedAt = time.Now()

	stored := next.Clone()
	s.snapshots[user] = append(history, stored)

	return &next, nil
}

// GetUserAssets retrieves the latest snapshot. Returns ErrNotFound if none exists.
func (s *UserAssetStore) GetUserAssets(_ context.Context, user solana.PublicKey) (*domain.UserAssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[user]
	if len(history) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := history[len(history)-1].Clone()
	return &latest, nil
}

// ListUserSnapshots returns up to limit snapshots, newest first.
func (s *UserAssetStore) ListUserSnapshots(_ context.Context, user solana.PublicKey, limit int) ([]*domain.UserAssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[user]
	n := len(history)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]*domain.UserAssetSnapshot, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		snap := history[i].Clone()
		out = append(out, &snap)
	}
	return out, nil
}

// HasUser reports whether EnsureUser or an append has seen user.
func (s *UserAssetStore) HasUser(user solana.PublicKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[user]
	return ok
}
