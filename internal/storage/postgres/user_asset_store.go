package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
)

// UserAssetStore implements storage.UserAssetStore using PostgreSQL.
// All users share one snapshot table; user_asset_heads holds the per-user
// sequence and is the lock that serializes appends for one user.
type UserAssetStore struct {
	pool *Pool
}

// NewUserAssetStore creates a new UserAssetStore.
func NewUserAssetStore(pool *Pool) *UserAssetStore {
	return &UserAssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserAssetStore = (*UserAssetStore)(nil)

const snapshotColumns = `user_address, seq, slot, sol_balance::text, token_holdings::text, nft_holdings::text, recorded_at, balance_slot, token_slots::text`

// EnsureUser provisions the head row for user. Idempotent.
func (s *UserAssetStore) EnsureUser(ctx context.Context, user solana.PublicKey) error {
	if _, err := s.pool.Exec(ctx, ensureHeadQuery, user.String()); err != nil {
		return fmt.Errorf("ensure user %s: %w", user, err)
	}
	return nil
}

const ensureHeadQuery = `
	INSERT INTO user_asset_heads (user_address) VALUES ($1)
	ON CONFLICT (user_address) DO NOTHING
`

// AppendUserSnapshot appends mutate(latest) as the next snapshot in one transaction.
func (s *UserAssetStore) AppendUserSnapshot(ctx context.Context, user solana.PublicKey, slot uint64, mutate storage.SnapshotMutator) (*domain.UserAssetSnapshot, error) {
	if mutate == nil {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	addr := user.String()

	if _, err := tx.Exec(ctx, ensureHeadQuery, addr); err != nil {
		return nil, fmt.Errorf("ensure user head: %w", err)
	}

	var head int64
	err = tx.QueryRow(ctx, `SELECT seq FROM user_asset_heads WHERE user_address = $1 FOR UPDATE`, addr).Scan(&head)
	if err != nil {
		return nil, fmt.Errorf("lock user head: %w", err)
	}

	prev := domain.EmptyUserAssetSnapshot(user)
	if head > 0 {
		row := tx.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM user_asset_snapshots WHERE user_address = $1 AND seq = $2`, addr, head)
		latest, err := scanSnapshot(row)
		if err != nil {
			return nil, fmt.Errorf("read latest snapshot: %w", err)
		}
		prev = *latest
	}

	// A stale mutation rolls back; the head row keeps its sequence.
	next, err := storage.ApplyMutator(prev, mutate)
	if err != nil {
		return nil, err
	}
	next.User = user
	next.Seq = head + 1
	next.Slot = slot

	tokens, err := json.Marshal(next.TokenHoldings)
	if err != nil {
		return nil, fmt.Errorf("marshal token holdings: %w", err)
	}
	tokenSlots, err := json.Marshal(next.TokenSlots)
	if err != nil {
		return nil, fmt.Errorf("marshal token slots: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO user_asset_snapshots (
			user_address, seq, slot, sol_balance, token_holdings, nft_holdings,
			balance_slot, token_slots
		) VALUES ($1, $2, $3, CAST($4 AS NUMERIC), CAST($5 AS JSONB), CAST($6 AS JSONB), $7, CAST($8 AS JSONB))
		RETURNING recorded_at
	`,
		addr,
		next.Seq,
		int64(next.Slot),
		next.SolBalance.String(),
		string(tokens),
		string(next.NFTHoldings),
		int64(next.BalanceSlot),
		string(tokenSlots),
	).Scan(&next.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE user_asset_heads SET seq = $2, updated_at = now() WHERE user_address = $1`, addr, next.Seq); err != nil {
		return nil, fmt.Errorf("advance user head: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}

	return &next, nil
}

// GetUserAssets retrieves the latest snapshot. Returns ErrNotFound if none exists.
func (s *UserAssetStore) GetUserAssets(ctx context.Context, user solana.PublicKey) (*domain.UserAssetSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM user_asset_snapshots
		WHERE user_address = $1
		ORDER BY seq DESC
		LIMIT 1
	`

	row := s.pool.QueryRow(ctx, query, user.String())
	snap, err := scanSnapshot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user assets: %w", err)
	}
	return snap, nil
}

// ListUserSnapshots returns up to limit snapshots, newest first.
func (s *UserAssetStore) ListUserSnapshots(ctx context.Context, user solana.PublicKey, limit int) ([]*domain.UserAssetSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM user_asset_snapshots
		WHERE user_address = $1
		ORDER BY seq DESC
	`
	args := []any{user.String()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user snapshots: %w", err)
	}
	defer rows.Close()

	var out []*domain.UserAssetSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user snapshots: %w", err)
	}
	return out, nil
}

// scanSnapshot scans a single row into UserAssetSnapshot.
func scanSnapshot(row pgx.Row) (*domain.UserAssetSnapshot, error) {
	var (
		snap                    domain.UserAssetSnapshot
		user, sol, tokens, nfts string
		slot, balanceSlot       int64
		tokenSlots              string
	)

	if err := row.Scan(&user, &snap.Seq, &slot, &sol, &tokens, &nfts, &snap.RecordedAt, &balanceSlot, &tokenSlots); err != nil {
		return nil, err
	}

	var err error
	if snap.User, err = solana.ParsePublicKey(user); err != nil {
		return nil, fmt.Errorf("snapshot user: %w", err)
	}
	if snap.SolBalance, err = decimal.NewFromString(sol); err != nil {
		return nil, fmt.Errorf("snapshot sol_balance: %w", err)
	}
	if err := json.Unmarshal([]byte(tokens), &snap.TokenHoldings); err != nil {
		return nil, fmt.Errorf("snapshot token_holdings: %w", err)
	}
	if snap.TokenHoldings == nil {
		snap.TokenHoldings = []domain.TokenHolding{}
	}
	if err := json.Unmarshal([]byte(tokenSlots), &snap.TokenSlots); err != nil {
		return nil, fmt.Errorf("snapshot token_slots: %w", err)
	}
	if snap.TokenSlots == nil {
		snap.TokenSlots = map[solana.PublicKey]uint64{}
	}
	snap.NFTHoldings = json.RawMessage(nfts)
	snap.Slot = uint64(slot)
	snap.BalanceSlot = uint64(balanceSlot)

	return &snap, nil
}
