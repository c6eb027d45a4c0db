// Package stub provides in-memory account sources and handlers for tests.
package stub

import (
	"context"
	"sync"

	"heimdall/internal/domain"
)

// AccountSource is a channel-driven ingestion.AccountSource.
type AccountSource struct {
	ch  chan domain.AccountUpdate
	Err error
}

// NewAccountSource creates a source with a buffered feed.
func NewAccountSource() *AccountSource {
	return &AccountSource{ch: make(chan domain.AccountUpdate, 100)}
}

// Subscribe returns the feed, or Err when set.
func (s *AccountSource) Subscribe(context.Context) (<-chan domain.AccountUpdate, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.ch, nil
}

// Send queues an update.
func (s *AccountSource) Send(u domain.AccountUpdate) {
	s.ch <- u
}

// Close ends the feed.
func (s *AccountSource) Close() {
	close(s.ch)
}

// Recorder is an ingestion.Handler that keeps every update it receives.
type Recorder struct {
	mu      sync.Mutex
	updates []domain.AccountUpdate
	// ErrFor, when set, decides the error returned for each update.
	ErrFor func(domain.AccountUpdate) error
}

// UpdateAccount records u.
func (r *Recorder) UpdateAccount(_ context.Context, u domain.AccountUpdate) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()

	if r.ErrFor != nil {
		return r.ErrFor(u)
	}
	return nil
}

// Updates returns a copy of the recorded updates.
func (r *Recorder) Updates() []domain.AccountUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.AccountUpdate, len(r.updates))
	copy(out, r.updates)
	return out
}
