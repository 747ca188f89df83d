package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default TTL configuration
const (
	defaultEntityTTL  = 5 * time.Minute
	defaultListTTL    = 2 * time.Minute
	defaultJitterFrac = 0.10
)

// Manager coordinates reads through the cache. Concurrent requests for the
// same key share one loader execution (single-flight), stored TTLs carry
// random jitter so hot keys don't expire in lockstep, and every store
// failure falls through to the loader: the cache being down degrades
// latency, never correctness.
type Manager struct {
	store      Store
	keys       *KeyBuilder
	group      singleflight.Group
	logger     *zap.Logger
	entityTTL  time.Duration
	listTTL    time.Duration
	jitterFrac float64

	hits   metric.Int64Counter
	misses metric.Int64Counter
	faults metric.Int64Counter
	shared metric.Int64Counter
}

// ManagerOption is a functional option for configuring the manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager
func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTTLs overrides the default entity and list TTLs
func WithTTLs(entityTTL, listTTL time.Duration) ManagerOption {
	return func(m *Manager) {
		if entityTTL > 0 {
			m.entityTTL = entityTTL
		}
		if listTTL > 0 {
			m.listTTL = listTTL
		}
	}
}

// WithJitter sets the TTL jitter fraction (0 disables jitter)
func WithJitter(frac float64) ManagerOption {
	return func(m *Manager) {
		if frac >= 0 {
			m.jitterFrac = frac
		}
	}
}

// NewManager creates a cache manager on the given store
func NewManager(store Store, keys *KeyBuilder, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		keys:       keys,
		logger:     zap.NewNop(),
		entityTTL:  defaultEntityTTL,
		listTTL:    defaultListTTL,
		jitterFrac: defaultJitterFrac,
	}
	for _, opt := range opts {
		opt(m)
	}

	meter := otel.Meter("lexcore/cache")
	m.hits, _ = meter.Int64Counter("cache.hits",
		metric.WithDescription("Cache lookups served from the store"))
	m.misses, _ = meter.Int64Counter("cache.misses",
		metric.WithDescription("Cache lookups that fell through to the loader"))
	m.faults, _ = meter.Int64Counter("cache.faults",
		metric.WithDescription("Store operations that failed and were absorbed"))
	m.shared, _ = meter.Int64Counter("cache.singleflight_shared",
		metric.WithDescription("Loader executions shared between concurrent callers"))

	return m
}

// Keys returns the manager's key builder
func (m *Manager) Keys() *KeyBuilder {
	return m.keys
}

// EntityTTL returns the configured TTL for single-entity keys
func (m *Manager) EntityTTL() time.Duration {
	return m.entityTTL
}

// ListTTL returns the configured TTL for query-result keys
func (m *Manager) ListTTL() time.Duration {
	return m.listTTL
}

// GetOrSet returns the cached value for key, or runs loader and caches the
// result. Concurrent callers for the same key within this process share one
// loader run. tags optionally register the key for group invalidation.
//
// Loader errors are the only errors returned; store errors are logged,
// counted and absorbed.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if data, err := m.store.Get(ctx, key); err == nil {
		m.hits.Add(ctx, 1)
		return data, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "get")))
		m.logger.Warn("cache read failed, falling through to loader",
			zap.String("key", key), zap.Error(err))
	}
	m.misses.Add(ctx, 1)

	value, err, sharedRun := m.group.Do(key, func() (interface{}, error) {
		// Another caller may have populated the key while we waited for
		// the flight slot.
		if data, err := m.store.Get(ctx, key); err == nil {
			return data, nil
		}

		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		m.fill(ctx, key, data, ttl, tags)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if sharedRun {
		m.shared.Add(ctx, 1)
	}
	return value.([]byte), nil
}

// Invalidate drops a single key
func (m *Manager) Invalidate(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil {
		m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "delete")))
		m.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

// fill stores a loaded value best-effort
func (m *Manager) fill(ctx context.Context, key string, data []byte, ttl time.Duration, tags []string) {
	if err := m.store.Set(ctx, key, data, m.jitteredTTL(ttl)); err != nil {
		m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "set")))
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	for _, tag := range tags {
		if err := m.store.AddToTag(ctx, tag, key); err != nil {
			m.faults.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "tag")))
			m.logger.Warn("cache tag registration failed",
				zap.String("key", key), zap.String("tag", tag), zap.Error(err))
		}
	}
}

// jitteredTTL spreads expirations so keys filled together don't all expire
// together
func (m *Manager) jitteredTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || m.jitterFrac <= 0 {
		return ttl
	}
	jitter := time.Duration(rand.Float64() * m.jitterFrac * float64(ttl))
	return ttl + jitter
}

// GetOrSetJSON is the typed convenience wrapper around Manager.GetOrSet.
// A cached value that no longer unmarshals is dropped and reloaded.
func GetOrSetJSON[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, tags []string, loader func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := m.GetOrSet(ctx, key, ttl, tags, func(ctx context.Context) ([]byte, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cached value: %w", err)
		}
		return encoded, nil
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		m.logger.Warn("cached value no longer decodes, reloading",
			zap.String("key", key), zap.Error(err))
		m.Invalidate(ctx, key)
		return loader(ctx)
	}
	return out, nil
}
