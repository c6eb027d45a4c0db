package domain

import (
	"fmt"

	"heimdall/internal/solana"
)

// ChangeKind identifies which projection a change event refers to.
type ChangeKind int

const (
	// ListingChanged means the listings row for Subject was written.
	ListingChanged ChangeKind = iota + 1
	// UserAssetsChanged means a snapshot was appended for Subject.
	UserAssetsChanged
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case ListingChanged:
		return "listing"
	case UserAssetsChanged:
		return "user_assets"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ChangeEvent announces that the current state of Subject changed.
// It carries identity only; consumers re-fetch the payload from the store.
type ChangeEvent struct {
	Subject solana.PublicKey
	Kind    ChangeKind
}
