package ingestion

import (
	"context"

	"heimdall/internal/domain"
)

// AccountSource provides a live feed of account updates.
type AccountSource interface {
	// Subscribe returns a channel of updates. The channel is closed when the
	// context is cancelled or the feed ends.
	Subscribe(ctx context.Context) (<-chan domain.AccountUpdate, error)
}

// Handler consumes one account update at a time.
type Handler interface {
	UpdateAccount(ctx context.Context, u domain.AccountUpdate) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, u domain.AccountUpdate) error

// UpdateAccount calls fn.
func (fn HandlerFunc) UpdateAccount(ctx context.Context, u domain.AccountUpdate) error {
	return fn(ctx, u)
}

// FilterHandler adapts a Filter to Handler, discarding the report.
func FilterHandler(f *Filter) Handler {
	return HandlerFunc(func(ctx context.Context, u domain.AccountUpdate) error {
		_, err := f.UpdateAccount(ctx, u)
		return err
	})
}
