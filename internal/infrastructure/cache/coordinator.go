package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/domain/shared"
)

// DefaultInvalidationChannel is the pub/sub channel invalidations travel on
const DefaultInvalidationChannel = "lexcore:invalidation"

const defaultIdempotencyTTL = 24 * time.Hour

// InvalidationMessage is the payload broadcast to peer instances when a
// tenant's cached entries must be dropped
type InvalidationMessage struct {
	Origin    string              `json:"origin"`
	TenantID  uuid.UUID           `json:"tenant_id"`
	Entity    string              `json:"entity"`
	EntityID  uuid.UUID           `json:"entity_id"`
	Action    shared.ChangeAction `json:"action"`
	Timestamp time.Time           `json:"timestamp"`
}

// Coordinator turns entity change notifications into cache invalidations.
// It consumes change events from the in-process event bus, applies the
// invalidation locally, and broadcasts it so peer instances drop their
// copies too. Delivery is at-least-once; the idempotency store keeps
// redelivered events harmless, and the deletes themselves are idempotent.
type Coordinator struct {
	store       Store
	keys        *KeyBuilder
	idempotency shared.IdempotencyStore
	idemTTL     time.Duration
	logger      *zap.Logger
	origin      string
	channel     string

	mu       sync.RWMutex
	cascades map[string][]string

	stopSub  func() error
	stopOnce sync.Once

	applied metric.Int64Counter
}

// CoordinatorOption is a functional option for configuring the coordinator
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger for the coordinator
func WithCoordinatorLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithInvalidationChannel overrides the pub/sub channel name
func WithInvalidationChannel(channel string) CoordinatorOption {
	return func(c *Coordinator) {
		if channel != "" {
			c.channel = channel
		}
	}
}

// WithIdempotencyTTL overrides how long processed event IDs are remembered
func WithIdempotencyTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.idemTTL = ttl
		}
	}
}

// NewCoordinator creates an invalidation coordinator. idempotency may be nil,
// in which case every delivery is applied (deletes are idempotent, so this
// only costs redundant store round trips).
func NewCoordinator(store Store, keys *KeyBuilder, idempotency shared.IdempotencyStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       store,
		keys:        keys,
		idempotency: idempotency,
		idemTTL:     defaultIdempotencyTTL,
		logger:      zap.NewNop(),
		origin:      uuid.NewString(),
		channel:     DefaultInvalidationChannel,
		cascades:    make(map[string][]string),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter("lexcore/cache")
	c.applied, _ = meter.Int64Counter("cache.invalidations",
		metric.WithDescription("Invalidations applied to the local store"))

	return c
}

// RegisterCascade declares that a change to entity also invalidates the
// cached queries of the related entities. Registration is additive.
func (c *Coordinator) RegisterCascade(entity string, related ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cascades[entity] = append(c.cascades[entity], related...)
}

// EventTypes implements shared.EventHandler
func (c *Coordinator) EventTypes() []string {
	return []string{shared.ChangeEventType}
}

// Handle implements shared.EventHandler for entity change events
func (c *Coordinator) Handle(ctx context.Context, event shared.DomainEvent) error {
	change, ok := event.(*shared.ChangeEvent)
	if !ok {
		return nil
	}

	if c.idempotency != nil {
		fresh, err := c.idempotency.MarkProcessed(ctx, change.EventID().String(), c.idemTTL)
		if err != nil {
			// Applying twice is safe; skipping is not.
			c.logger.Warn("idempotency check failed, applying invalidation anyway",
				zap.String("event_id", change.EventID().String()), zap.Error(err))
		} else if !fresh {
			return nil
		}
	}

	msg := InvalidationMessage{
		Origin:    c.origin,
		TenantID:  change.TenantID(),
		Entity:    change.Entity,
		EntityID:  change.AggregateID(),
		Action:    change.Action,
		Timestamp: time.Now(),
	}

	c.apply(ctx, msg, "local")
	c.broadcast(ctx, msg)
	return nil
}

// Invalidate applies and broadcasts an invalidation that did not arrive
// through the event bus, such as database-side change notifications.
func (c *Coordinator) Invalidate(ctx context.Context, tenantID, entityID uuid.UUID, entity string, action shared.ChangeAction) {
	msg := InvalidationMessage{
		Origin:    c.origin,
		TenantID:  tenantID,
		Entity:    entity,
		EntityID:  entityID,
		Action:    action,
		Timestamp: time.Now(),
	}
	c.apply(ctx, msg, "local")
	c.broadcast(ctx, msg)
}

// PurgeTenant drops every cached entry for a tenant. Used when a consultant
// session ends so nothing from the visited tenant lingers in shared caches.
func (c *Coordinator) PurgeTenant(ctx context.Context, tenantID uuid.UUID) error {
	deleted, err := c.store.DeletePattern(ctx, c.keys.TenantPattern(tenantID))
	if err != nil {
		return fmt.Errorf("failed to purge tenant cache: %w", err)
	}
	c.logger.Info("purged tenant cache",
		zap.String("tenant_id", tenantID.String()), zap.Int("keys", deleted))
	return nil
}

// Start subscribes to peer invalidation broadcasts
func (c *Coordinator) Start(ctx context.Context) error {
	stop, err := c.store.Subscribe(ctx, c.channel, func(payload []byte) {
		var msg InvalidationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("discarding malformed invalidation message", zap.Error(err))
			return
		}
		if msg.Origin == c.origin {
			return
		}
		c.apply(context.Background(), msg, "remote")
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidation channel: %w", err)
	}
	c.stopSub = stop
	c.logger.Info("invalidation coordinator started", zap.String("channel", c.channel))
	return nil
}

// Stop unsubscribes from the invalidation channel
func (c *Coordinator) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if c.stopSub != nil {
			err = c.stopSub()
		}
	})
	return err
}

// apply drops the affected keys from the local store. Failures are logged
// and absorbed; entries that survive expire by TTL.
func (c *Coordinator) apply(ctx context.Context, msg InvalidationMessage, source string) {
	log := c.logger.With(
		zap.String("tenant_id", msg.TenantID.String()),
		zap.String("entity", msg.Entity),
		zap.String("source", source),
	)

	// Any mutation makes the entity's cached query results stale.
	if _, err := c.store.DeletePattern(ctx, c.keys.QueryPattern(msg.TenantID, msg.Entity)); err != nil {
		log.Warn("failed to drop cached queries", zap.Error(err))
	}

	// Creates never have a stale entity entry to drop.
	if msg.Action != shared.ChangeActionCreate {
		if err := c.store.Delete(ctx, c.keys.EntityKey(msg.TenantID, msg.Entity, msg.EntityID)); err != nil {
			log.Warn("failed to drop cached entity", zap.Error(err))
		}
	}

	if _, err := c.store.DeleteByTag(ctx, c.keys.EntityTag(msg.TenantID, msg.Entity)); err != nil {
		log.Warn("failed to drop tagged keys", zap.Error(err))
	}

	c.mu.RLock()
	related := c.cascades[msg.Entity]
	c.mu.RUnlock()
	for _, rel := range related {
		if _, err := c.store.DeletePattern(ctx, c.keys.QueryPattern(msg.TenantID, rel)); err != nil {
			log.Warn("failed to drop cascaded queries", zap.String("related", rel), zap.Error(err))
		}
		if _, err := c.store.DeleteByTag(ctx, c.keys.EntityTag(msg.TenantID, rel)); err != nil {
			log.Warn("failed to drop cascaded tags", zap.String("related", rel), zap.Error(err))
		}
	}

	c.applied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", msg.Entity),
		attribute.String("source", source),
	))
}

// broadcast tells peer instances to apply the same invalidation
func (c *Coordinator) broadcast(ctx context.Context, msg InvalidationMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode invalidation message", zap.Error(err))
		return
	}
	if err := c.store.Publish(ctx, c.channel, payload); err != nil {
		c.logger.Warn("failed to broadcast invalidation", zap.Error(err))
	}
}
