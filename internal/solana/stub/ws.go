package stub

import (
	"context"
	"errors"
	"sync"

	"heimdall/internal/solana"
)

// ErrClosed is returned when subscribing on a closed stub.
var ErrClosed = errors.New("stub ws client closed")

type programSub struct {
	filters []solana.AccountFilter
	ch      chan solana.AccountNotification
}

// WSClient implements solana.WSClient for testing.
// Tests push notifications with EmitAccount and EmitProgram.
type WSClient struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]chan solana.AccountNotification
	programs map[solana.PublicKey][]programSub
	closed   bool
}

// NewWSClient creates a new stub WebSocket client.
func NewWSClient() *WSClient {
	return &WSClient{
		accounts: make(map[solana.PublicKey]chan solana.AccountNotification),
		programs: make(map[solana.PublicKey][]programSub),
	}
}

var _ solana.WSClient = (*WSClient)(nil)

// AccountSubscribe registers an account subscription.
func (c *WSClient) AccountSubscribe(_ context.Context, pubkey solana.PublicKey) (<-chan solana.AccountNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan solana.AccountNotification, 64)
	c.accounts[pubkey] = ch
	return ch, nil
}

// ProgramSubscribe registers a program subscription. Several subscriptions
// on the same program with different filters are allowed.
func (c *WSClient) ProgramSubscribe(_ context.Context, program solana.PublicKey, filters []solana.AccountFilter) (<-chan solana.AccountNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	ch := make(chan solana.AccountNotification, 64)
	c.programs[program] = append(c.programs[program], programSub{filters: filters, ch: ch})
	return ch, nil
}

// Filters returns the filter sets passed to ProgramSubscribe for program, in call order.
func (c *WSClient) Filters(program solana.PublicKey) [][]solana.AccountFilter {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]solana.AccountFilter, 0, len(c.programs[program]))
	for _, sub := range c.programs[program] {
		out = append(out, sub.filters)
	}
	return out
}

// Subscribed reports the number of active account and program subscriptions.
func (c *WSClient) Subscribed() (accounts, programs int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, subs := range c.programs {
		programs += len(subs)
	}
	return len(c.accounts), programs
}

// EmitAccount delivers n to the subscription for n.Pubkey. Returns false if none exists.
func (c *WSClient) EmitAccount(n solana.AccountNotification) bool {
	c.mu.Lock()
	ch, ok := c.accounts[n.Pubkey]
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- n
	return true
}

// EmitProgram delivers n to every subscription on program whose filters match
// the account data. Returns false if none matched.
func (c *WSClient) EmitProgram(program solana.PublicKey, n solana.AccountNotification) bool {
	c.mu.Lock()
	var targets []chan solana.AccountNotification
	for _, sub := range c.programs[program] {
		if matches(n.Account.Data, sub.filters) {
			targets = append(targets, sub.ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range targets {
		ch <- n
	}
	return len(targets) > 0
}

// Close closes all subscription channels.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for _, ch := range c.accounts {
		close(ch)
	}
	for _, subs := range c.programs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	return nil
}
