package storage

import (
	"errors"
	"fmt"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// ApplyMutator runs mutate on a private copy of prev and normalizes empty fields.
func ApplyMutator(prev domain.UserAssetSnapshot, mutate SnapshotMutator) (domain.UserAssetSnapshot, error) {
	next, err := mutate(prev.Clone())
	if err != nil {
		if errors.Is(err, domain.ErrStaleField) {
			return next, fmt.Errorf("%w: %w", ErrStaleWrite, err)
		}
		return next, fmt.Errorf("mutate snapshot: %w", err)
	}

	if next.TokenHoldings == nil {
		next.TokenHoldings = []domain.TokenHolding{}
	}
	if len(next.NFTHoldings) == 0 {
		next.NFTHoldings = domain.EmptyNFTHoldings
	}
	if next.TokenSlots == nil {
		next.TokenSlots = map[solana.PublicKey]uint64{}
	}
	return next, nil
}
