package memory

import (
	"context"
	"sort"
	"sync"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// ListingHistoryStore is an in-memory implementation of storage.ListingHistoryStore.
type ListingHistoryStore struct {
	mu      sync.RWMutex
	entries map[solana.PublicKey][]domain.Listing
}

// NewListingHistoryStore creates a new in-memory listing history store.
func NewListingHistoryStore() *ListingHistoryStore {
	return &ListingHistoryStore{
		entries: make(map[solana.PublicKey][]domain.Listing),
	}
}

// Compile-time interface check.
var _ storage.ListingHistoryStore = (*ListingHistoryStore)(nil)

// Append records one committed listing state.
func (s *ListingHistoryStore) Append(_ context.Context, l *domain.Listing) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[l.Account] = append(s.entries[l.Account], *l)
	return nil
}

// GetByAccount returns the history of account ordered by slot ASC.
func (s *ListingHistoryStore) GetByAccount(_ context.Context, account solana.PublicKey) ([]*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entries[account]
	out := make([]*domain.Listing, len(entries))
	for i := range entries {
		entryCopy := entries[i]
		out[i] = &entryCopy
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}
