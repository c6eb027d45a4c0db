package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// AccountSubscribe streams every change to a single account.
	AccountSubscribe(ctx context.Context, pubkey PublicKey) (<-chan AccountNotification, error)

	// ProgramSubscribe streams changes to accounts owned by program that match all filters.
	ProgramSubscribe(ctx context.Context, program PublicKey, filters []AccountFilter) (<-chan AccountNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// AccountNotification is one account change observed on a subscription.
type AccountNotification struct {
	Pubkey  PublicKey
	Slot    uint64
	Account AccountInfo
}
