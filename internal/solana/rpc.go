package solana

import "context"

// RPCClient defines the Solana JSON-RPC methods used for account snapshots.
type RPCClient interface {
	// GetAccountInfo returns the current state of one account, or nil if it does not exist.
	GetAccountInfo(ctx context.Context, pubkey PublicKey) (*AccountInfo, error)

	// GetProgramAccounts returns every account owned by program that matches all filters.
	GetProgramAccounts(ctx context.Context, program PublicKey, filters []AccountFilter) ([]KeyedAccount, error)

	// GetSlot returns the current slot.
	GetSlot(ctx context.Context) (uint64, error)
}
