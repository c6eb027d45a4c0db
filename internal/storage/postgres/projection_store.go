package postgres

import "heimdall/internal/storage"

// ProjectionStore combines the listing and user asset stores over one pool.
type ProjectionStore struct {
	*ListingStore
	*UserAssetStore
}

// NewProjectionStore creates a ProjectionStore sharing pool.
func NewProjectionStore(pool *Pool) *ProjectionStore {
	return &ProjectionStore{
		ListingStore:   NewListingStore(pool),
		UserAssetStore: NewUserAssetStore(pool),
	}
}

// Compile-time interface check.
var _ storage.ProjectionStore = (*ProjectionStore)(nil)
