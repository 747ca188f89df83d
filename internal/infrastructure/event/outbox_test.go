package event

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutboxEntry_CapturesEventIdentity(t *testing.T) {
	tenantID := uuid.New()
	evt := newTestEvent("ClientCreated", tenantID)
	payload := []byte(`{"client_name":"Acme Litigation LLP"}`)

	entry := shared.NewOutboxEntry(tenantID, evt, payload)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, tenantID, entry.TenantID)
	assert.Equal(t, evt.EventID(), entry.EventID)
	assert.Equal(t, "ClientCreated", entry.EventType)
	assert.Equal(t, evt.AggregateID(), entry.AggregateID)
	assert.Equal(t, evt.AggregateType(), entry.AggregateType)
	assert.Equal(t, payload, entry.Payload)
	assert.Equal(t, shared.OutboxStatusPending, entry.Status)
	assert.Zero(t, entry.RetryCount)
	assert.Equal(t, shared.DefaultMaxRetries, entry.MaxRetries)
}

func TestOutboxEntry_CanRetry(t *testing.T) {
	entryWith := func(status shared.OutboxStatus, retries int) *shared.OutboxEntry {
		return &shared.OutboxEntry{Status: status, RetryCount: retries, MaxRetries: 5}
	}

	assert.False(t, entryWith(shared.OutboxStatusPending, 0).CanRetry(),
		"pending entries are drained, not retried")
	assert.True(t, entryWith(shared.OutboxStatusFailed, 2).CanRetry())
	assert.False(t, entryWith(shared.OutboxStatusFailed, 5).CanRetry(),
		"retry budget exhausted")
	assert.False(t, entryWith(shared.OutboxStatusDead, 5).CanRetry())
	assert.False(t, entryWith(shared.OutboxStatusSent, 0).CanRetry())
}

func TestOutboxEntry_MarkProcessing(t *testing.T) {
	for _, status := range []shared.OutboxStatus{shared.OutboxStatusPending, shared.OutboxStatusFailed} {
		entry := &shared.OutboxEntry{Status: status}
		require.NoError(t, entry.MarkProcessing())
		assert.Equal(t, shared.OutboxStatusProcessing, entry.Status)
	}

	sent := &shared.OutboxEntry{Status: shared.OutboxStatusSent}
	assert.Error(t, sent.MarkProcessing(), "delivered entries must not be reclaimed")
}

func TestOutboxEntry_MarkSent(t *testing.T) {
	entry := &shared.OutboxEntry{Status: shared.OutboxStatusProcessing}

	entry.MarkSent()

	assert.Equal(t, shared.OutboxStatusSent, entry.Status)
	require.NotNil(t, entry.ProcessedAt)
	assert.WithinDuration(t, time.Now(), *entry.ProcessedAt, time.Second)
}

func TestOutboxEntry_MarkFailed_SchedulesBackoff(t *testing.T) {
	entry := &shared.OutboxEntry{
		Status:     shared.OutboxStatusProcessing,
		MaxRetries: 5,
	}

	before := time.Now()
	entry.MarkFailed(errors.New("redis connection refused"))

	assert.Equal(t, shared.OutboxStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
	assert.Equal(t, "redis connection refused", entry.LastError)
	require.NotNil(t, entry.NextRetryAt)
	// first retry backs off 2^1 seconds
	assert.WithinDuration(t, before.Add(2*time.Second), *entry.NextRetryAt, time.Second)
}

func TestOutboxEntry_MarkFailed_BackoffGrowsExponentially(t *testing.T) {
	entry := &shared.OutboxEntry{
		Status:     shared.OutboxStatusProcessing,
		RetryCount: 3,
		MaxRetries: 10,
	}

	before := time.Now()
	entry.MarkFailed(errors.New("handler timeout"))

	// fourth retry backs off 2^4 seconds
	require.NotNil(t, entry.NextRetryAt)
	assert.WithinDuration(t, before.Add(16*time.Second), *entry.NextRetryAt, time.Second)
}

func TestOutboxEntry_MarkFailed_ExhaustedBudgetGoesDead(t *testing.T) {
	entry := &shared.OutboxEntry{
		Status:     shared.OutboxStatusProcessing,
		RetryCount: 4,
		MaxRetries: 5,
	}

	entry.MarkFailed(errors.New("poison payload"))

	assert.Equal(t, shared.OutboxStatusDead, entry.Status)
	assert.Equal(t, 5, entry.RetryCount)
	assert.Nil(t, entry.NextRetryAt)
	assert.Equal(t, "poison payload", entry.LastError)
}
