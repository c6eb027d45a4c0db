// Package changebus carries change events from the ingestion side to the stream service.
package changebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"heimdall/internal/domain"
	"heimdall/internal/solana"
)

// Notification channels.
const (
	ListingChannel = "account_updates"
	UserChannel    = "user_updates"
)

const (
	actionListing = "account_update"
	actionUser    = "user_update"
)

var (
	// ErrMalformedPayload is returned for notifications that cannot be parsed.
	ErrMalformedPayload = errors.New("malformed change payload")

	// ErrUnknownKind is returned when publishing an event with no channel.
	ErrUnknownKind = errors.New("unknown change kind")
)

// Bus publishes change events and delivers them to subscribers.
type Bus interface {
	// Publish announces ev. Delivery is best effort.
	Publish(ctx context.Context, ev domain.ChangeEvent) error

	// Subscribe returns a channel of events published after the call.
	// The channel is closed when ctx is cancelled or the feed is lost for good.
	Subscribe(ctx context.Context) (<-chan domain.ChangeEvent, error)
}

type payload struct {
	Account string `json:"account"`
	Action  string `json:"action"`
}

// EncodePayload returns the notification channel and JSON payload for ev.
func EncodePayload(ev domain.ChangeEvent) (channel, body string, err error) {
	var action string
	switch ev.Kind {
	case domain.ListingChanged:
		channel, action = ListingChannel, actionListing
	case domain.UserAssetsChanged:
		channel, action = UserChannel, actionUser
	default:
		return "", "", fmt.Errorf("%w: %v", ErrUnknownKind, ev.Kind)
	}

	b, err := json.Marshal(payload{Account: ev.Subject.String(), Action: action})
	if err != nil {
		return "", "", err
	}
	return channel, string(b), nil
}

// DecodePayload parses a notification received on channel.
func DecodePayload(channel, body string) (domain.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var ev domain.ChangeEvent
	switch {
	case p.Action == actionListing && channel == ListingChannel:
		ev.Kind = domain.ListingChanged
	case p.Action == actionUser && channel == UserChannel:
		ev.Kind = domain.UserAssetsChanged
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: action %q on channel %q", ErrMalformedPayload, p.Action, channel)
	}

	subject, err := solana.ParsePublicKey(p.Account)
	if err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	ev.Subject = subject
	return ev, nil
}
