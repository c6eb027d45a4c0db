package memory

import "heimdall/internal/storage"

// ProjectionStore combines the in-memory listing and user asset stores.
type ProjectionStore struct {
	*ListingStore
	*UserAssetStore
}

// NewProjectionStore creates an empty in-memory projection store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		ListingStore:   NewListingStore(),
		UserAssetStore: NewUserAssetStore(),
	}
}

// Compile-time interface check.
var _ storage.ProjectionStore = (*ProjectionStore)(nil)
