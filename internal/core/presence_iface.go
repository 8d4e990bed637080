package core

import (
	"context"

	"github.com/dkeye/Walkie/internal/domain"
)

// PresenceChannel is a named broadcast group carrying presence records.
type PresenceChannel interface {
	// Subscribe blocks until the channel acknowledges the subscription.
	// Any non-success status is returned as an error wrapping ErrSubscription.
	Subscribe(ctx context.Context) error
	// Track publishes this instance's record. Only valid after Subscribe.
	Track(ctx context.Context, rec domain.PresenceRecord) error
	// OnSync registers the roster listener. Snapshots are delivered in channel order,
	// including the first one after subscribing.
	OnSync(fn func(domain.RosterSnapshot))
	Unsubscribe() error
}

// PresenceFactory opens presence channels by name.
type PresenceFactory interface {
	Channel(name string) PresenceChannel
}
