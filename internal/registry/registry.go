// Package registry holds the table of active watch channels, one per
// monitored user. It is the single piece of shared mutable state in the
// engine; implementations keep every mutation serialized per user while
// cross-user operations proceed in parallel.
package registry

import (
	"context"
	"time"

	"github.com/jun/meetwatch/internal/model"
)

// Registry stores at most one watch channel per monitored user.
type Registry interface {
	// Get returns the user's channel, or nil when none is registered.
	Get(ctx context.Context, email string) (*model.WatchChannel, error)

	// FindByChannelID looks a channel up by its opaque id, as delivered on
	// webhook notifications. Returns nil when unknown.
	FindByChannelID(ctx context.Context, channelID string) (*model.WatchChannel, error)

	// Put registers ch for its user, superseding and returning any previous
	// entry so the caller can request its cancellation.
	Put(ctx context.Context, ch model.WatchChannel) (*model.WatchChannel, error)

	// Delete removes the user's entry if it still carries channelID.
	// Deleting an already-superseded channel is a no-op.
	Delete(ctx context.Context, email, channelID string) error

	// AdvanceCursor stores cursor on the user's entry if it still carries
	// channelID; a superseded channel's cursor is never advanced.
	AdvanceCursor(ctx context.Context, email, channelID, cursor string) error

	// ExpiringBefore returns channels expiring before horizon, ordered by
	// ascending expiration time.
	ExpiringBefore(ctx context.Context, horizon time.Time) ([]model.WatchChannel, error)
}
