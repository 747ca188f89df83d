package event

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&shared.OutboxEntry{}))
	return db
}

func registeredPublisher() *OutboxPublisher {
	serializer := NewEventSerializer()
	serializer.Register("TestEvent", &testEvent{})
	return NewOutboxPublisher(serializer)
}

func countOutboxRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&shared.OutboxEntry{}).Count(&n).Error)
	return n
}

func TestOutboxPublisher_PublishWithTx(t *testing.T) {
	db := openOutboxDB(t)
	publisher := registeredPublisher()
	tenantID := uuid.New()
	evt := newTestEvent("TestEvent", tenantID)

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.PublishWithTx(context.Background(), tx, evt)
	})
	require.NoError(t, err)

	var entry shared.OutboxEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, evt.EventID(), entry.EventID)
	assert.Equal(t, "TestEvent", entry.EventType)
	assert.Equal(t, tenantID, entry.TenantID)
	assert.Equal(t, shared.OutboxStatusPending, entry.Status)
	assert.Contains(t, string(entry.Payload), "test data")
}

func TestOutboxPublisher_PublishWithTx_MultipleEvents(t *testing.T) {
	db := openOutboxDB(t)
	publisher := registeredPublisher()
	tenantID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.PublishWithTx(context.Background(), tx,
			newTestEvent("TestEvent", tenantID),
			newTestEvent("TestEvent", tenantID),
			newTestEvent("TestEvent", tenantID),
		)
	})
	require.NoError(t, err)

	assert.EqualValues(t, 3, countOutboxRows(t, db))
}

func TestOutboxPublisher_PublishWithTx_NoEventsWritesNothing(t *testing.T) {
	db := openOutboxDB(t)
	publisher := registeredPublisher()

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.PublishWithTx(context.Background(), tx)
	})
	require.NoError(t, err)

	assert.EqualValues(t, 0, countOutboxRows(t, db))
}

func TestOutboxPublisher_RollbackDiscardsEntries(t *testing.T) {
	db := openOutboxDB(t)
	publisher := registeredPublisher()
	boom := errors.New("aggregate save failed")

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := publisher.PublishWithTx(context.Background(), tx,
			newTestEvent("TestEvent", uuid.New())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.EqualValues(t, 0, countOutboxRows(t, db),
		"events must not outlive a rolled-back transaction")
}

func TestOutboxPublisher_SaveEvents(t *testing.T) {
	db := openOutboxDB(t)
	publisher := registeredPublisher()

	err := db.Transaction(func(tx *gorm.DB) error {
		return publisher.SaveEvents(context.Background(), tx,
			newTestEvent("TestEvent", uuid.New()))
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countOutboxRows(t, db))
}

func TestOutboxPublisher_SaveEvents_RejectsForeignTxType(t *testing.T) {
	publisher := registeredPublisher()

	err := publisher.SaveEvents(context.Background(), "not a tx",
		newTestEvent("TestEvent", uuid.New()))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "*gorm.DB")
}
