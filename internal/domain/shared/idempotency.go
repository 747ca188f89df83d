package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which event IDs have been processed.
// Invalidation delivery is at-least-once; the coordinator uses this store to
// keep redelivered events harmless.
type IdempotencyStore interface {
	// MarkProcessed claims an event ID for the given TTL. It returns false
	// when another consumer already claimed it.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether the event ID is currently claimed
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	Close() error
}
