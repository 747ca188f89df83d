package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/lexcore/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
)

// readerMeter returns a meter backed by a manual reader so tests can
// collect what the instruments actually recorded.
func readerMeter(t *testing.T) (*sdkmetric.ManualReader, metric.Meter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return reader, provider.Meter("test")
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	cfg := telemetry.MetricsConfig{
		Enabled:     false,
		ServiceName: "lexcore-test",
	}

	mp, err := telemetry.NewMeterProvider(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())
	assert.Equal(t, "lexcore-test", mp.GetConfig().ServiceName)

	// Disabled provider still hands out usable meters and shuts down clean.
	meter := mp.Meter("test")
	counter, err := telemetry.NewCounter(meter, "noop_counter", "noop", "1")
	require.NoError(t, err)
	counter.Inc(context.Background())

	assert.NoError(t, mp.ForceFlush(context.Background()))
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestCounter_RecordsSum(t *testing.T) {
	reader, meter := readerMeter(t)
	ctx := context.Background()

	counter, err := telemetry.NewCounter(meter, "matters_opened", "Matters opened", "{matter}")
	require.NoError(t, err)

	counter.Add(ctx, 5, telemetry.AttrPracticeArea.String("litigation"))
	counter.Inc(ctx, telemetry.AttrPracticeArea.String("litigation"))
	counter.Inc(ctx, telemetry.AttrPracticeArea.String("tax"))

	m, ok := findMetric(collect(t, reader), "matters_opened")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	totals := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(attribute.Key("practice_area")); found {
			totals[v.AsString()] = dp.Value
		}
	}
	assert.Equal(t, int64(6), totals["litigation"])
	assert.Equal(t, int64(1), totals["tax"])
}

func TestHistogram_RecordsDurations(t *testing.T) {
	reader, meter := readerMeter(t)
	ctx := context.Background()

	hist, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "query_duration_seconds",
		Description: "Query latency",
		Unit:        "s",
		Boundaries:  telemetry.DBDurationBuckets,
	})
	require.NoError(t, err)

	hist.RecordDuration(ctx, 25*time.Millisecond)
	hist.Record(ctx, 0.5)

	m, ok := findMetric(collect(t, reader), "query_duration_seconds")
	require.True(t, ok)
	data, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, uint64(2), data.DataPoints[0].Count)
	assert.InDelta(t, 0.525, data.DataPoints[0].Sum, 0.001)
	assert.Equal(t, telemetry.DBDurationBuckets, data.DataPoints[0].Bounds)
}

func TestHistogram_DefaultBoundaries(t *testing.T) {
	_, meter := readerMeter(t)

	hist, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name: "plain_histogram",
		Unit: "s",
	})
	require.NoError(t, err)
	hist.Record(context.Background(), 1.0)
}

func TestGauge_RecordsLastValue(t *testing.T) {
	reader, meter := readerMeter(t)
	ctx := context.Background()

	gauge, err := telemetry.NewGauge(meter, "open_matters", "Open matters", "{matter}")
	require.NoError(t, err)

	gauge.Record(ctx, 10)
	gauge.Record(ctx, 7)

	m, ok := findMetric(collect(t, reader), "open_matters")
	require.True(t, ok)
	data, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(7), data.DataPoints[0].Value)
}

func TestAttributeKeys(t *testing.T) {
	assert.Equal(t, attribute.Key("tenant_id"), telemetry.AttrTenantID)
	assert.Equal(t, attribute.Key("db.operation"), telemetry.AttrDBOperation)
	assert.Equal(t, attribute.Key("db.pool.state"), telemetry.AttrDBState)
}
