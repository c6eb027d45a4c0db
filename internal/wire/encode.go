package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"heimdall/internal/domain"
)

// TimeLayout is the text form of every timestamp on the wire.
const TimeLayout = time.RFC3339Nano

// EncodeListing maps a listings row to its wire message.
func EncodeListing(l *domain.Listing) *Listing {
	return &Listing{
		Account:         l.Account.String(),
		Name:            l.Name,
		Seed:            l.Seed,
		Mint:            l.Mint.String(),
		FundingGoal:     l.FundingGoal,
		PoolMintSupply:  l.PoolMintSupply.String(),
		FundingRaised:   l.FundingRaised,
		AvailableTokens: l.AvailableTokens.String(),
		BasePrice:       l.BasePrice,
		TokensSold:      l.TokensSold.String(),
		Bump:            uint32(l.Bump),
		VaultBump:       uint32(l.VaultBump),
		MintBump:        uint32(l.MintBump),
		UpdatedAt:       formatTime(l.UpdatedAt),
		Program:         l.Program.String(),
		Slot:            l.Slot,
	}
}

// EncodeUserAssets maps a user snapshot to its wire message.
// Holdings are rendered as JSON text; NFT holdings are passed through verbatim.
func EncodeUserAssets(s *domain.UserAssetSnapshot) (*UserAssets, error) {
	holdings := s.TokenHoldings
	if holdings == nil {
		holdings = []domain.TokenHolding{}
	}
	tokens, err := json.Marshal(holdings)
	if err != nil {
		return nil, fmt.Errorf("marshal token holdings: %w", err)
	}

	nfts := string(s.NFTHoldings)
	if nfts == "" {
		nfts = string(domain.EmptyNFTHoldings)
	}

	return &UserAssets{
		Address:         s.User.String(),
		SolBalance:      s.SolBalance.InexactFloat64(),
		TokenHoldings:   string(tokens),
		NftHoldings:     nfts,
		UpdatedAt:       formatTime(s.RecordedAt),
		Seq:             s.Seq,
		Slot:            s.Slot,
		SolBalanceExact: s.SolBalance.String(),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}
