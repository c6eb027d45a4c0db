package fanout

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// Overflow decides what happens when a subscriber's queue is full.
type Overflow int

const (
	// DropOldest discards the oldest queued update to make room.
	DropOldest Overflow = iota
	// Disconnect terminates the subscription with ErrSlowSubscriber.
	Disconnect
)

// String returns the policy name.
func (o Overflow) String() string {
	switch o {
	case DropOldest:
		return "drop_oldest"
	case Disconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("Overflow(%d)", int(o))
	}
}

// ParseOverflow parses a policy name.
func ParseOverflow(s string) (Overflow, error) {
	switch strings.ToLower(s) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Filter selects the updates a subscriber receives. Empty sets match everything.
// Programs only constrain listing updates.
type Filter struct {
	programs mapset.Set[solana.PublicKey]
	kinds    mapset.Set[domain.ChangeKind]
}

// NewFilter builds a filter.
func NewFilter(programs []solana.PublicKey, kinds []domain.ChangeKind) Filter {
	return Filter{
		programs: mapset.NewThreadUnsafeSet(programs...),
		kinds:    mapset.NewThreadUnsafeSet(kinds...),
	}
}

// Match reports whether u passes the filter.
func (f Filter) Match(u *Update) bool {
	if f.kinds != nil && f.kinds.Cardinality() > 0 && !f.kinds.ContainsOne(u.Kind) {
		return false
	}
	if u.Kind == domain.ListingChanged && f.programs != nil && f.programs.Cardinality() > 0 {
		return f.programs.ContainsOne(u.Program)
	}
	return true
}
