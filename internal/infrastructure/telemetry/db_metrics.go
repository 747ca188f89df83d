package telemetry

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig tunes database metrics collection.
type DBMetricsConfig struct {
	Enabled bool
	// SlowQueryThreshold marks queries counted as slow.
	SlowQueryThreshold time.Duration
	// PoolStatsInterval is how often connection pool gauges are sampled.
	PoolStatsInterval time.Duration
}

// DefaultDBMetricsConfig returns production defaults.
func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: 200 * time.Millisecond,
		PoolStatsInterval:  15 * time.Second,
	}
}

// DBMetrics samples the connection pool and times every statement gorm runs.
// Query timing is attached through a gorm plugin; pool gauges come from a
// background sampler that Stop terminates.
type DBMetrics struct {
	poolConnections    *Gauge
	poolConnectionsMax *Gauge
	queryTotal         *Counter
	queryDuration      *Histogram
	slowQueryTotal     *Counter

	config   DBMetricsConfig
	logger   *zap.Logger
	sqlDB    *sql.DB
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDBMetrics builds the instrument set on the given meter.
func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = DefaultDBMetricsConfig().SlowQueryThreshold
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = DefaultDBMetricsConfig().PoolStatsInterval
	}

	m := &DBMetrics{
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	var err error
	if m.poolConnections, err = NewGauge(meter, "db_pool_connections",
		"Connections in the pool by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolConnectionsMax, err = NewGauge(meter, "db_pool_connections_max",
		"Connection pool size limit", "{connection}"); err != nil {
		return nil, err
	}
	if m.queryTotal, err = NewCounter(meter, "db_query_total",
		"Queries by operation type", "{query}"); err != nil {
		return nil, err
	}
	if m.queryDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Query latency distribution",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.slowQueryTotal, err = NewCounter(meter, "db_slow_query_total",
		"Queries slower than the configured threshold, by table", "{query}"); err != nil {
		return nil, err
	}
	return m, nil
}

// StartPoolSampler begins periodic connection pool sampling for the given
// handle. Stop ends the sampler.
func (m *DBMetrics) StartPoolSampler(ctx context.Context, sqlDB *sql.DB) {
	if sqlDB == nil {
		return
	}
	m.sqlDB = sqlDB

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.config.PoolStatsInterval)
		defer ticker.Stop()

		m.samplePool(ctx)
		for {
			select {
			case <-ticker.C:
				m.samplePool(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	m.logger.Info("database pool sampling started",
		zap.Duration("interval", m.config.PoolStatsInterval))
}

func (m *DBMetrics) samplePool(ctx context.Context) {
	stats := m.sqlDB.Stats()
	m.poolConnectionsMax.Record(ctx, int64(stats.MaxOpenConnections))
	// WaitCount is cumulative, not a state, so it is not reported here.
	m.poolConnections.Record(ctx, int64(stats.Idle), AttrDBState.String("idle"))
	m.poolConnections.Record(ctx, int64(stats.InUse), AttrDBState.String("in_use"))
	m.poolConnections.Record(ctx, int64(stats.OpenConnections), AttrDBState.String("open"))
}

// Stop terminates the pool sampler. Safe to call more than once.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// RecordQuery records one completed statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, duration time.Duration) {
	operation = strings.ToUpper(operation)
	if operation == "" {
		operation = "UNKNOWN"
	}

	m.queryTotal.Inc(ctx, AttrDBOperation.String(operation))
	m.queryDuration.RecordDuration(ctx, duration, AttrDBOperation.String(operation))

	if duration > m.config.SlowQueryThreshold {
		if table == "" {
			table = "unknown"
		}
		m.slowQueryTotal.Inc(ctx, AttrDBTable.String(table))
	}
}

type dbMetricsContextKey struct{}

// dbMetricsPlugin hooks gorm callbacks to time statements. Tracing is
// otelgorm's job; this plugin only feeds the metric instruments.
type dbMetricsPlugin struct {
	metrics *DBMetrics
}

func (p *dbMetricsPlugin) Name() string { return "db_metrics" }

func (p *dbMetricsPlugin) Initialize(db *gorm.DB) error {
	stamp := func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, dbMetricsContextKey{}, time.Now())
	}

	hooks := []struct {
		anchor    string
		operation string
	}{
		{"gorm:create", "INSERT"},
		{"gorm:query", "SELECT"},
		{"gorm:update", "UPDATE"},
		{"gorm:delete", "DELETE"},
		{"gorm:row", ""},
		{"gorm:raw", ""},
	}

	for _, h := range hooks {
		name := "db_metrics:" + strings.TrimPrefix(h.anchor, "gorm:")
		operation := h.operation
		after := func(db *gorm.DB) {
			op := operation
			if op == "" {
				op = operationFromSQL(db.Statement.SQL.String())
			}
			p.record(db, op)
		}
		if err := registerBefore(db, h.anchor, name+"_before", stamp); err != nil {
			return err
		}
		if err := registerAfter(db, h.anchor, name+"_after", after); err != nil {
			return err
		}
	}
	return nil
}

// registerBefore hooks fn before the given gorm anchor. The chains stay
// inline because gorm's callback processor type is unexported.
func registerBefore(db *gorm.DB, anchor, name string, fn func(*gorm.DB)) error {
	switch anchor {
	case "gorm:create":
		return db.Callback().Create().Before(anchor).Register(name, fn)
	case "gorm:query":
		return db.Callback().Query().Before(anchor).Register(name, fn)
	case "gorm:update":
		return db.Callback().Update().Before(anchor).Register(name, fn)
	case "gorm:delete":
		return db.Callback().Delete().Before(anchor).Register(name, fn)
	case "gorm:row":
		return db.Callback().Row().Before(anchor).Register(name, fn)
	default:
		return db.Callback().Raw().Before(anchor).Register(name, fn)
	}
}

// registerAfter hooks fn after the given gorm anchor.
func registerAfter(db *gorm.DB, anchor, name string, fn func(*gorm.DB)) error {
	switch anchor {
	case "gorm:create":
		return db.Callback().Create().After(anchor).Register(name, fn)
	case "gorm:query":
		return db.Callback().Query().After(anchor).Register(name, fn)
	case "gorm:update":
		return db.Callback().Update().After(anchor).Register(name, fn)
	case "gorm:delete":
		return db.Callback().Delete().After(anchor).Register(name, fn)
	case "gorm:row":
		return db.Callback().Row().After(anchor).Register(name, fn)
	default:
		return db.Callback().Raw().After(anchor).Register(name, fn)
	}
}

func (p *dbMetricsPlugin) record(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var duration time.Duration
	if startTime, ok := ctx.Value(dbMetricsContextKey{}).(time.Time); ok {
		duration = time.Since(startTime)
	}
	p.metrics.RecordQuery(ctx, operation, db.Statement.Table, duration)
}

// operationFromSQL classifies Row/Raw statements by their leading keyword.
func operationFromSQL(sql string) string {
	sql = strings.TrimSpace(strings.ToUpper(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	return "OTHER"
}

// InstallDBMetricsPlugin attaches statement timing callbacks to a gorm
// handle without starting the pool sampler.
func InstallDBMetricsPlugin(db *gorm.DB, metrics *DBMetrics) error {
	return db.Use(&dbMetricsPlugin{metrics: metrics})
}

// RegisterDBMetrics installs query timing and pool sampling on a gorm handle.
// Returns nil metrics when disabled or when no meter provider is exporting;
// callers should Stop the returned metrics on shutdown.
func RegisterDBMetrics(db *gorm.DB, meterProvider *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if meterProvider == nil || !meterProvider.IsEnabled() {
		logger.Debug("meter provider not available, skipping database metrics")
		return nil, nil
	}

	metrics, err := NewDBMetrics(meterProvider.Meter("db.client"), cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := InstallDBMetricsPlugin(db, metrics); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	metrics.StartPoolSampler(context.Background(), sqlDB)

	logger.Info("database metrics registered",
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold))
	return metrics, nil
}
