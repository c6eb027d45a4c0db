// Package fanout turns change events into encoded updates and delivers them
// to stream subscribers through bounded per-subscriber queues.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"heimdall/internal/cdc"
	"heimdall/internal/domain"
	"heimdall/internal/observability"
	"heimdall/internal/solana"
	"heimdall/internal/storage"
	"heimdall/internal/wire"
)

// DefaultQueueSize is the per-subscriber queue capacity used when none is set.
const DefaultQueueSize = 100

var (
	// ErrSlowSubscriber terminates a subscription whose queue overflowed under Disconnect.
	ErrSlowSubscriber = errors.New("subscriber too slow")
	// ErrFeedClosed is returned by Run when the change feed ends.
	ErrFeedClosed = errors.New("change feed closed")
	// ErrClosed is the terminal error of a subscription closed by its owner.
	ErrClosed = errors.New("subscription closed")
)

// Store is the read side of the projection store.
type Store interface {
	GetListing(ctx context.Context, account solana.PublicKey) (*domain.Listing, error)
	GetUserAssets(ctx context.Context, user solana.PublicKey) (*domain.UserAssetSnapshot, error)
}

// Update is one encoded change, shared read-only by every subscriber.
type Update struct {
	Kind     domain.ChangeKind
	Subject  solana.PublicKey
	Program  solana.PublicKey // listing updates only
	Response *wire.StreamResponse
}

// Dispatcher re-fetches the row named by each change event and offers the
// encoded update to every matching subscriber without blocking.
type Dispatcher struct {
	store     Store
	queueSize int
	overflow  Overflow
	logger    logrus.FieldLogger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// Options contains configuration for creating a Dispatcher.
type Options struct {
	Store     Store
	QueueSize int // Default: DefaultQueueSize
	Overflow  Overflow
	Logger    logrus.FieldLogger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Dispatcher{
		store:     opts.Store,
		queueSize: queueSize,
		overflow:  opts.Overflow,
		logger:    logger,
		subs:      make(map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber. It receives only updates dispatched after the call.
func (d *Dispatcher) Subscribe(f Filter) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	sub := &Subscription{
		id:     d.nextID,
		d:      d,
		filter: f,
		queue:  make(chan *Update, d.queueSize),
		done:   make(chan struct{}),
	}
	d.subs[sub.id] = sub
	observability.SetActiveSubscribers(len(d.subs))
	return sub
}

// Subscribers returns the number of registered subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.subs, id)
	observability.SetActiveSubscribers(len(d.subs))
}

func (d *Dispatcher) snapshot() []*Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		out = append(out, s)
	}
	return out
}

// Run dispatches events until ctx is cancelled or events is closed. On return
// every remaining subscription is terminated.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			d.closeAll(ctx.Err())
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				d.closeAll(ErrFeedClosed)
				return ErrFeedClosed
			}
			d.Dispatch(ctx, ev)
		}
	}
}

// Dispatch handles a single event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.ChangeEvent) {
	upd, err := d.fetch(ctx, ev)
	if err != nil {
		entry := d.logger.WithError(err).WithFields(logrus.Fields{
			"account": ev.Subject.String(),
			"kind":    ev.Kind.String(),
		})
		if errors.Is(err, cdc.ErrFetchMiss) {
			observability.RecordFetchMiss(ev.Kind.String())
			entry.Warn("change event for missing row dropped")
			return
		}
		entry.Error("change event could not be loaded")
		return
	}

	for _, sub := range d.snapshot() {
		if sub.filter.Match(upd) {
			sub.offer(upd, d.overflow)
		}
	}
}

func (d *Dispatcher) fetch(ctx context.Context, ev domain.ChangeEvent) (*Update, error) {
	upd := &Update{Kind: ev.Kind, Subject: ev.Subject}

	switch ev.Kind {
	case domain.ListingChanged:
		l, err := d.store.GetListing(ctx, ev.Subject)
		if err != nil {
			return nil, classifyFetch(ev, err)
		}
		upd.Program = l.Program
		upd.Response = &wire.StreamResponse{Listing: wire.EncodeListing(l)}

	case domain.UserAssetsChanged:
		s, err := d.store.GetUserAssets(ctx, ev.Subject)
		if err != nil {
			return nil, classifyFetch(ev, err)
		}
		ua, err := wire.EncodeUserAssets(s)
		if err != nil {
			return nil, fmt.Errorf("encode user assets: %w", err)
		}
		upd.Response = &wire.StreamResponse{UserAssets: ua}

	default:
		return nil, fmt.Errorf("unknown change kind %v", ev.Kind)
	}

	return upd, nil
}

func classifyFetch(ev domain.ChangeEvent, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return cdc.New(cdc.KindFetchMiss, ev.Subject.String(), err)
	}
	return err
}

func (d *Dispatcher) closeAll(cause error) {
	for _, sub := range d.snapshot() {
		sub.terminate(cause)
	}
}
