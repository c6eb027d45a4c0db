package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// ListingStore implements storage.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *Pool
}

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ListingStore = (*ListingStore)(nil)

// u64 columns are BIGINT; values above MaxInt64 are stored two's-complement and
// restored on read, so the round trip is lossless.

// UpsertListing inserts or replaces the row for l.Account.
// updated_at never moves backwards, even if the server clock does.
func (s *ListingStore) UpsertListing(ctx context.Context, l *domain.Listing) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO listings (
			account, program, slot, name, seed, mint, funding_goal,
			pool_mint_supply, funding_raised, available_tokens, base_price,
			tokens_sold, bump, vault_bump, mint_bump, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			CAST($8 AS NUMERIC), $9, CAST($10 AS NUMERIC), $11,
			CAST($12 AS NUMERIC), $13, $14, $15, clock_timestamp()
		)
		ON CONFLICT (account) DO UPDATE SET
			program          = EXCLUDED.program,
			slot             = EXCLUDED.slot,
			name             = EXCLUDED.name,
			seed             = EXCLUDED.seed,
			mint             = EXCLUDED.mint,
			funding_goal     = EXCLUDED.funding_goal,
			pool_mint_supply = EXCLUDED.pool_mint_supply,
			funding_raised   = EXCLUDED.funding_raised,
			available_tokens = EXCLUDED.available_tokens,
			base_price       = EXCLUDED.base_price,
			tokens_sold      = EXCLUDED.tokens_sold,
			bump             = EXCLUDED.bump,
			vault_bump       = EXCLUDED.vault_bump,
			mint_bump        = EXCLUDED.mint_bump,
			updated_at       = GREATEST(clock_timestamp(), listings.updated_at)
		WHERE listings.slot <= EXCLUDED.slot
		RETURNING updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		l.Account.String(),
		l.Program.String(),
		int64(l.Slot),
		l.Name,
		int64(l.Seed),
		l.Mint.String(),
		int64(l.FundingGoal),
		l.PoolMintSupply.String(),
		int64(l.FundingRaised),
		l.AvailableTokens.String(),
		l.BasePrice,
		l.TokensSold.String(),
		int16(l.Bump),
		int16(l.VaultBump),
		int16(l.MintBump),
	).Scan(&l.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			// Conflict row was not updated: the stored slot is newer.
			return storage.ErrStaleWrite
		}
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// GetListing retrieves the current row. Returns ErrNotFound if not exists.
func (s *ListingStore) GetListing(ctx context.Context, account solana.PublicKey) (*domain.Listing, error) {
	query := `
		SELECT account, program, slot, name, seed, mint, funding_goal,
			pool_mint_supply::text, funding_raised, available_tokens::text, base_price,
			tokens_sold::text, bump, vault_bump, mint_bump, updated_at
		FROM listings
		WHERE account = $1
	`

	row := s.pool.QueryRow(ctx, query, account.String())
	l, err := scanListing(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// scanListing scans a single row into Listing.
func scanListing(row pgx.Row) (*domain.Listing, error) {
	var (
		l                          domain.Listing
		account, program, mint     string
		poolMintSupply             string
		available, sold            string
		slot, seed                 int64
		fundingGoal, fundingRaised int64
		bump, vaultBump, mintBump  int16
	)

	err := row.Scan(
		&account,
		&program,
		&slot,
		&l.Name,
		&seed,
		&mint,
		&fundingGoal,
		&poolMintSupply,
		&fundingRaised,
		&available,
		&l.BasePrice,
		&sold,
		&bump,
		&vaultBump,
		&mintBump,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if l.Account, err = solana.ParsePublicKey(account); err != nil {
		return nil, fmt.Errorf("listing account: %w", err)
	}
	if l.Program, err = solana.ParsePublicKey(program); err != nil {
		return nil, fmt.Errorf("listing program: %w", err)
	}
	if l.Mint, err = solana.ParsePublicKey(mint); err != nil {
		return nil, fmt.Errorf("listing mint: %w", err)
	}
	if l.PoolMintSupply, err = domain.ParseU128(poolMintSupply); err != nil {
		return nil, fmt.Errorf("listing pool_mint_supply: %w", err)
	}
	if l.AvailableTokens, err = domain.ParseU128(available); err != nil {
		return nil, fmt.Errorf("listing available_tokens: %w", err)
	}
	if l.TokensSold, err = domain.ParseU128(sold); err != nil {
		return nil, fmt.Errorf("listing tokens_sold: %w", err)
	}

	l.Slot = uint64(slot)
	l.Seed = uint64(seed)
	l.FundingGoal = uint64(fundingGoal)
	l.FundingRaised = uint64(fundingRaised)
	l.Bump = uint8(bump)
	l.VaultBump = uint8(vaultBump)
	l.MintBump = uint8(mintBump)

	return &l, nil
}
