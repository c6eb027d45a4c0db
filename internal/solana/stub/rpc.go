package stub

import (
	"bytes"
	"context"
	"sync"

	"heimdall/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu       sync.RWMutex
	Accounts map[solana.PublicKey]*solana.AccountInfo
	Slot     uint64
	// Err, when set, is returned from every call.
	Err error
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts: make(map[solana.PublicKey]*solana.AccountInfo),
	}
}

var _ solana.RPCClient = (*RPCClient)(nil)

// GetAccountInfo returns the stored account or nil if absent.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey solana.PublicKey) (*solana.AccountInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}
	info, ok := c.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetProgramAccounts returns stored accounts owned by program that match every filter.
func (c *RPCClient) GetProgramAccounts(_ context.Context, program solana.PublicKey, filters []solana.AccountFilter) ([]solana.KeyedAccount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}

	var out []solana.KeyedAccount
	for pk, info := range c.Accounts {
		if info.Owner != program || !matches(info.Data, filters) {
			continue
		}
		out = append(out, solana.KeyedAccount{Pubkey: pk, Account: *info})
	}
	return out, nil
}

// GetSlot returns the configured slot.
func (c *RPCClient) GetSlot(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Slot, c.Err
}

// AddAccount adds an account to the stub store.
func (c *RPCClient) AddAccount(pubkey solana.PublicKey, info solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = &info
}

func matches(data []byte, filters []solana.AccountFilter) bool {
	for _, f := range filters {
		switch {
		case f.DataSize != nil:
			if uint64(len(data)) != *f.DataSize {
				return false
			}
		case f.Memcmp != nil:
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
		}
	}
	return true
}
