package domain

import (
	"time"

	"heimdall/internal/solana"
)

// ListingRecord is the decoded on-chain listing account.
// Field order matches the serialized layout.
type ListingRecord struct {
	Name            string
	Seed            uint64
	Mint            solana.PublicKey
	FundingGoal     uint64
	PoolMintSupply  U128
	FundingRaised   uint64
	AvailableTokens U128
	BasePrice       float64
	TokensSold      U128
	Bump            uint8
	VaultBump       uint8
	MintBump        uint8
}

// Listing is the canonical current-state row for one listing account.
// Corresponds to listings table in PostgreSQL.
type Listing struct {
	Account   solana.PublicKey // PRIMARY KEY
	Program   solana.PublicKey // owning program
	Slot      uint64           // slot of the write that produced this row
	UpdatedAt time.Time        // set by the store, advances on every write
	ListingRecord
}
