package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// ListingHistoryStore implements storage.ListingHistoryStore using ClickHouse.
type ListingHistoryStore struct {
	conn *Conn
}

// NewListingHistoryStore creates a new ListingHistoryStore.
func NewListingHistoryStore(conn *Conn) *ListingHistoryStore {
	return &ListingHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ListingHistoryStore = (*ListingHistoryStore)(nil)

// Append records one committed listing state.
func (s *ListingHistoryStore) Append(ctx context.Context, l *domain.Listing) error {
	if l == nil {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO listing_history (
			account, program, slot, name, seed, mint, funding_goal,
			pool_mint_supply, funding_raised, available_tokens, base_price,
			tokens_sold, bump, vault_bump, mint_bump, updated_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		l.Account.String(), l.Program.String(), l.Slot, l.Name, l.Seed, l.Mint.String(), l.FundingGoal,
		l.PoolMintSupply.Big(), l.FundingRaised, l.AvailableTokens.Big(), l.BasePrice,
		l.TokensSold.Big(), l.Bump, l.VaultBump, l.MintBump, l.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByAccount returns the history of account ordered by slot ASC.
func (s *ListingHistoryStore) GetByAccount(ctx context.Context, account solana.PublicKey) ([]*domain.Listing, error) {
	query := `
		SELECT account, program, slot, name, seed, mint, funding_goal,
			pool_mint_supply, funding_raised, available_tokens, base_price,
			tokens_sold, bump, vault_bump, mint_bump, updated_at
		FROM listing_history
		WHERE account = ?
		ORDER BY slot ASC, updated_at ASC
	`

	rows, err := s.conn.Query(ctx, query, account.String())
	if err != nil {
		return nil, fmt.Errorf("query by account: %w", err)
	}
	defer rows.Close()

	return scanListingHistory(rows)
}

// scanListingHistory scans multiple rows.
func scanListingHistory(rows chRows) ([]*domain.Listing, error) {
	var out []*domain.Listing

	for rows.Next() {
		var (
			l                       domain.Listing
			acct, program, mint     string
			supply, available, sold big.Int
			updatedAt               time.Time
		)

		err := rows.Scan(
			&acct, &program, &l.Slot, &l.Name, &l.Seed, &mint, &l.FundingGoal,
			&supply, &l.FundingRaised, &available, &l.BasePrice,
			&sold, &l.Bump, &l.VaultBump, &l.MintBump, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan listing history row: %w", err)
		}

		if l.Account, err = solana.ParsePublicKey(acct); err != nil {
			return nil, fmt.Errorf("listing history account: %w", err)
		}
		if l.Program, err = solana.ParsePublicKey(program); err != nil {
			return nil, fmt.Errorf("listing history program: %w", err)
		}
		if l.Mint, err = solana.ParsePublicKey(mint); err != nil {
			return nil, fmt.Errorf("listing history mint: %w", err)
		}
		if l.PoolMintSupply, err = domain.ParseU128(supply.String()); err != nil {
			return nil, err
		}
		if l.AvailableTokens, err = domain.ParseU128(available.String()); err != nil {
			return nil, err
		}
		if l.TokensSold, err = domain.ParseU128(sold.String()); err != nil {
			return nil, err
		}
		l.UpdatedAt = updatedAt

		out = append(out, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing history rows: %w", err)
	}

	return out, nil
}
