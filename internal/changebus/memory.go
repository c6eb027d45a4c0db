package changebus

import (
	"context"
	"sync"

	"heimdall/internal/domain"
)

const (
	defaultMemoryBuffer = 1024
	// publishedLimit bounds the log kept for Published.
	publishedLimit = 1024
)

type memorySub struct {
	ch   chan domain.ChangeEvent
	done chan struct{}
}

// MemoryBus is an in-process Bus. Publish blocks while a subscriber's buffer is full.
type MemoryBus struct {
	mu        sync.RWMutex
	subs      map[*memorySub]struct{}
	published []domain.ChangeEvent
	buffer    int
}

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySub]struct{}),
		buffer: defaultMemoryBuffer,
	}
}

var _ Bus = (*MemoryBus)(nil)

// Publish delivers ev to every current subscriber.
func (b *MemoryBus) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	b.mu.Lock()
	if len(b.published) == publishedLimit {
		copy(b.published, b.published[1:])
		b.published = b.published[:publishedLimit-1]
	}
	b.published = append(b.published, ev)
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan domain.ChangeEvent, error) {
	sub := &memorySub{
		ch:   make(chan domain.ChangeEvent, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(sub.done)

		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// Published returns a copy of the most recent published events, oldest first.
// At most publishedLimit events are kept.
func (b *MemoryBus) Published() []domain.ChangeEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.ChangeEvent, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribers returns the number of registered subscribers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
