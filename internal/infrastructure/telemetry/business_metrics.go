// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BusinessMetrics provides practice-level metrics. It tracks matter and
// client activity and the health of per-tenant encryption keys.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	matterOpenedTotal  *Counter
	matterClosedTotal  *Counter
	clientCreatedTotal *Counter

	// Gauge metrics (point-in-time values)
	openMatterCount  *Gauge
	staleKeyRowCount *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	practiceProvider PracticeMetricsProvider
}

// PracticeMetricsProvider provides practice data for periodic metrics
// collection. The interface lets the telemetry layer query matter and key
// state without depending on the domain packages directly.
type PracticeMetricsProvider interface {
	// GetOpenMatterCounts returns the number of open matters per practice area
	// for a tenant.
	GetOpenMatterCounts(ctx context.Context, tenantID uuid.UUID) (map[string]int64, error)

	// GetStaleKeyRowCount returns the number of encrypted rows still
	// referencing a non-active key for a tenant. A persistently non-zero
	// value means a rotation stalled.
	GetStaleKeyRowCount(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter            metric.Meter
	Logger           *zap.Logger
	CollectInterval  time.Duration // Default: 5 minutes
	PracticeProvider PracticeMetricsProvider
}

// NewBusinessMetrics creates a new BusinessMetrics instance.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:            cfg.Meter,
		logger:           logger,
		stopChan:         make(chan struct{}),
		practiceProvider: cfg.PracticeProvider,
	}

	var err error

	bm.matterOpenedTotal, err = NewCounter(
		cfg.Meter,
		"lexcore_matter_opened_total",
		"Total number of matters opened",
		"{matters}",
	)
	if err != nil {
		return nil, err
	}

	bm.matterClosedTotal, err = NewCounter(
		cfg.Meter,
		"lexcore_matter_closed_total",
		"Total number of matters closed",
		"{matters}",
	)
	if err != nil {
		return nil, err
	}

	bm.clientCreatedTotal, err = NewCounter(
		cfg.Meter,
		"lexcore_client_created_total",
		"Total number of clients created",
		"{clients}",
	)
	if err != nil {
		return nil, err
	}

	bm.openMatterCount, err = NewGauge(
		cfg.Meter,
		"lexcore_open_matter_count",
		"Current number of open matters",
		"{matters}",
	)
	if err != nil {
		return nil, err
	}

	bm.staleKeyRowCount, err = NewGauge(
		cfg.Meter,
		"lexcore_stale_key_row_count",
		"Encrypted rows still referencing a non-active key",
		"{rows}",
	)
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordMatterOpened records a matter creation event.
func (bm *BusinessMetrics) RecordMatterOpened(ctx context.Context, tenantID uuid.UUID, practiceArea string) {
	bm.matterOpenedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrPracticeArea.String(practiceArea),
	)
}

// RecordMatterClosed records a matter close event.
func (bm *BusinessMetrics) RecordMatterClosed(ctx context.Context, tenantID uuid.UUID, practiceArea string) {
	bm.matterClosedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrPracticeArea.String(practiceArea),
	)
}

// RecordClientCreated records a client creation event.
func (bm *BusinessMetrics) RecordClientCreated(ctx context.Context, tenantID uuid.UUID) {
	bm.clientCreatedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
	)
}

// RecordOpenMatterCount records the current open-matter count for a practice
// area. This is a gauge metric that should be updated periodically.
func (bm *BusinessMetrics) RecordOpenMatterCount(ctx context.Context, tenantID uuid.UUID, practiceArea string, count int64) {
	bm.openMatterCount.Record(ctx, count,
		AttrTenantID.String(tenantID.String()),
		AttrPracticeArea.String(practiceArea),
	)
}

// RecordStaleKeyRowCount records the number of rows on non-active keys.
func (bm *BusinessMetrics) RecordStaleKeyRowCount(ctx context.Context, tenantID uuid.UUID, count int64) {
	bm.staleKeyRowCount.Record(ctx, count,
		AttrTenantID.String(tenantID.String()),
	)
}

// TenantProvider provides tenant IDs for periodic metrics collection.
type TenantProvider interface {
	GetActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// StartPeriodicCollection starts periodic collection of gauge metrics.
// Non-blocking; use Stop() to stop collection.
func (bm *BusinessMetrics) StartPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	bm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go bm.runPeriodicCollection(ctx, tenantProvider, interval)
	})
}

func (bm *BusinessMetrics) runPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	bm.collectPracticeMetrics(ctx, tenantProvider)

	for {
		select {
		case <-bm.stopChan:
			bm.logger.Info("Stopping periodic business metrics collection")
			return
		case <-ctx.Done():
			bm.logger.Info("Context cancelled, stopping periodic business metrics collection")
			return
		case <-ticker.C:
			bm.collectPracticeMetrics(ctx, tenantProvider)
		}
	}
}

func (bm *BusinessMetrics) collectPracticeMetrics(ctx context.Context, tenantProvider TenantProvider) {
	if bm.practiceProvider == nil {
		bm.logger.Debug("No practice provider configured, skipping practice metrics collection")
		return
	}

	tenantIDs, err := tenantProvider.GetActiveTenantIDs(ctx)
	if err != nil {
		bm.logger.Error("Failed to get tenant IDs for metrics collection", zap.Error(err))
		return
	}

	for _, tenantID := range tenantIDs {
		bm.collectTenantPracticeMetrics(ctx, tenantID)
	}
}

func (bm *BusinessMetrics) collectTenantPracticeMetrics(ctx context.Context, tenantID uuid.UUID) {
	openByArea, err := bm.practiceProvider.GetOpenMatterCounts(ctx, tenantID)
	if err != nil {
		bm.logger.Warn("Failed to get open matter counts for tenant",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	} else {
		for area, count := range openByArea {
			bm.RecordOpenMatterCount(ctx, tenantID, area, count)
		}
	}

	staleRows, err := bm.practiceProvider.GetStaleKeyRowCount(ctx, tenantID)
	if err != nil {
		bm.logger.Warn("Failed to get stale key row count for tenant",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	} else {
		bm.RecordStaleKeyRowCount(ctx, tenantID, staleRows)
	}
}

// Stop stops the periodic collection.
func (bm *BusinessMetrics) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
