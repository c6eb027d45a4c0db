package fanout

import (
	"sync"

	"heimdall/internal/observability"
)

// Subscription is one subscriber's bounded queue.
type Subscription struct {
	id     uint64
	d      *Dispatcher
	filter Filter

	mu     sync.Mutex
	queue  chan *Update
	done   chan struct{}
	err    error
	closed bool
}

// Updates returns the queue. It is never closed; select on Done as well.
func (s *Subscription) Updates() <-chan *Update {
	return s.queue
}

// Done is closed when the subscription terminates.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close deregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.terminate(ErrClosed)
}

func (s *Subscription) terminate(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = cause
	close(s.done)
	s.mu.Unlock()

	s.d.remove(s.id)
}

// offer enqueues u without blocking and applies the overflow policy when full.
func (s *Subscription) offer(u *Update, policy Overflow) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	select {
	case s.queue <- u:
		s.mu.Unlock()
		observability.RecordDelivered(u.Kind.String())
		return
	default:
	}

	if policy == Disconnect {
		s.mu.Unlock()
		observability.RecordDropped("disconnect")
		s.terminate(ErrSlowSubscriber)
		return
	}

	// Only the dispatcher sends, so after taking one out there is room.
	select {
	case <-s.queue:
		observability.RecordDropped("drop_oldest")
	default:
	}
	select {
	case s.queue <- u:
		observability.RecordDelivered(u.Kind.String())
	default:
		observability.RecordDropped("drop_oldest")
	}
	s.mu.Unlock()
}
