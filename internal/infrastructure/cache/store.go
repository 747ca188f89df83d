// Package cache is the read-side caching layer. Every key is namespaced by
// tenant, so invalidation and consultant purges operate on one tenant's
// entries without touching any other tenant's.
//
// The cache is an optimization, never an authority: all store errors are
// absorbed by the manager, which falls through to the database.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Store.Get when the key is absent. It is the
// only Get error callers are expected to branch on.
var ErrCacheMiss = errors.New("cache: key not found")

// Store is the backing key-value store for cached entries. RedisStore is the
// production implementation; MemoryStore serves tests and single-process
// development setups.
type Store interface {
	// Get returns the value for key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores the value under key with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the given keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes all keys matching a glob pattern and returns
	// how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)
	// AddToTag registers keys under a tag for group invalidation.
	AddToTag(ctx context.Context, tag string, keys ...string) error
	// DeleteByTag removes every key registered under tag plus the tag
	// itself, returning how many keys were removed.
	DeleteByTag(ctx context.Context, tag string) (int, error)
	// Publish sends a payload on a pub/sub channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe invokes handler for each payload on channel until the
	// returned stop function is called. The handler runs on the
	// subscription's goroutine.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (stop func() error, err error)
	// Close releases the store's resources.
	Close() error
}
