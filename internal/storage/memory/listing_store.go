package memory

import (
	"context"
	"sync"
	"time"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// ListingStore is an in-memory implementation of storage.ListingStore.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[solana.PublicKey]*domain.Listing
	now      func() time.Time
}

// NewListingStore creates a new in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		listings: make(map[solana.PublicKey]*domain.Listing),
		now:      time.Now,
	}
}

// Compile-time interface check.
var _ storage.ListingStore = (*ListingStore)(nil)

// UpsertListing inserts or replaces the row. Returns ErrStaleWrite if the stored slot is newer.
func (s *ListingStore) UpsertListing(_ context.Context, l *domain.Listing) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedAt := s.now()
	if prev, exists := s.listings[l.Account]; exists {
		if prev.Slot > l.Slot {
			return storage.ErrStaleWrite
		}
		if prev.UpdatedAt.After(updatedAt) {
			updatedAt = prev.UpdatedAt
		}
	}

	l.UpdatedAt = updatedAt
	listingCopy := *l
	s.listings[l.Account] = &listingCopy
	return nil
}

// GetListing retrieves the current row. Returns ErrNotFound if not exists.
func (s *ListingStore) GetListing(_ context.Context, account solana.PublicKey) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.listings[account]
	if !exists {
		return nil, storage.ErrNotFound
	}

	listingCopy := *l
	return &listingCopy, nil
}

// Count returns the number of stored listings.
func (s *ListingStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}
