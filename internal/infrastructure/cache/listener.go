package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/domain/shared"
)

// DefaultNotifyChannel is the Postgres NOTIFY channel the row triggers fire on
const DefaultNotifyChannel = "lexcore_entity_changed"

const (
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// notifyPayload mirrors the JSON built by the notify_entity_changed trigger
type notifyPayload struct {
	TenantID uuid.UUID           `json:"tenant_id"`
	Entity   string              `json:"entity"`
	EntityID uuid.UUID           `json:"entity_id"`
	Action   shared.ChangeAction `json:"action"`
}

// ChangeListener feeds database-side mutations into the invalidation
// coordinator. Row triggers NOTIFY on every write, including writes made by
// migrations, support tooling or anything else that bypasses the repository
// layer, so caches converge even when the application never saw the change.
type ChangeListener struct {
	listener    *pq.Listener
	coordinator *Coordinator
	channel     string
	logger      *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ListenerOption is a functional option for configuring the listener
type ListenerOption func(*ChangeListener)

// WithListenerLogger sets the logger for the listener
func WithListenerLogger(logger *zap.Logger) ListenerOption {
	return func(l *ChangeListener) {
		l.logger = logger
	}
}

// WithNotifyChannel overrides the NOTIFY channel name
func WithNotifyChannel(channel string) ListenerOption {
	return func(l *ChangeListener) {
		if channel != "" {
			l.channel = channel
		}
	}
}

// NewChangeListener creates a listener on the given Postgres DSN
func NewChangeListener(dsn string, coordinator *Coordinator, opts ...ListenerOption) *ChangeListener {
	l := &ChangeListener{
		coordinator: coordinator,
		channel:     DefaultNotifyChannel,
		logger:      zap.NewNop(),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect,
		func(event pq.ListenerEventType, err error) {
			switch event {
			case pq.ListenerEventConnectionAttemptFailed:
				l.logger.Warn("database listener connection attempt failed", zap.Error(err))
			case pq.ListenerEventDisconnected:
				l.logger.Warn("database listener disconnected", zap.Error(err))
			case pq.ListenerEventReconnected:
				l.logger.Info("database listener reconnected")
			}
		})

	return l
}

// Start begins listening for change notifications
func (l *ChangeListener) Start(ctx context.Context) error {
	if err := l.listener.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", l.channel, err)
	}

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("database change listener started", zap.String("channel", l.channel))
	return nil
}

// Stop shuts the listener down and waits for the receive loop to exit
func (l *ChangeListener) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopCh)
		err = l.listener.Close()
		l.wg.Wait()
	})
	return err
}

func (l *ChangeListener) run(ctx context.Context) {
	defer l.wg.Done()

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case notification := <-l.listener.Notify:
			// A nil notification signals a reconnect; anything cached
			// during the gap may be stale, but entries expire by TTL.
			if notification == nil {
				l.logger.Warn("listener reconnected, notifications may have been missed")
				continue
			}
			l.handle(ctx, notification.Extra)
		case <-ping.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("database listener ping failed", zap.Error(err))
			}
		}
	}
}

func (l *ChangeListener) handle(ctx context.Context, raw string) {
	var payload notifyPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		l.logger.Warn("discarding malformed change notification",
			zap.String("payload", raw), zap.Error(err))
		return
	}
	if payload.TenantID == uuid.Nil || payload.Entity == "" {
		l.logger.Warn("discarding incomplete change notification", zap.String("payload", raw))
		return
	}

	l.coordinator.Invalidate(ctx, payload.TenantID, payload.EntityID, payload.Entity, payload.Action)
}
