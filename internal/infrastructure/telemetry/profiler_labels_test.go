package telemetry_test

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/lexcore/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestWithProfilingLabels_EmptyLabels(t *testing.T) {
	called := false
	telemetry.WithProfilingLabels(context.Background(), nil, func(c context.Context) {
		called = true
	})
	assert.True(t, called)

	called = false
	telemetry.WithProfilingLabels(context.Background(), map[string]string{}, func(c context.Context) {
		called = true
	})
	assert.True(t, called)
}

func TestWithProfilingLabels_AttachesLabels(t *testing.T) {
	labels := telemetry.RegionLabels("reencrypt", map[string]string{
		telemetry.ProfilingLabelTenantID: "firm-1",
	})

	var got map[string]string
	telemetry.WithProfilingLabels(context.Background(), labels, func(c context.Context) {
		got = make(map[string]string)
		pprof.ForLabels(c, func(key, value string) bool {
			got[key] = value
			return true
		})
	})

	assert.Equal(t, "reencrypt", got[telemetry.ProfilingLabelRegion])
	assert.Equal(t, "firm-1", got[telemetry.ProfilingLabelTenantID])
}

func TestWithProfilingLabels_DropsHighCardinalityLabels(t *testing.T) {
	labels := map[string]string{
		telemetry.ProfilingLabelOperation: "rotate",
		"matter_id":                       "matter-456",
		"request_id":                      "req-abc",
	}

	var got map[string]string
	telemetry.WithProfilingLabels(context.Background(), labels, func(c context.Context) {
		got = make(map[string]string)
		pprof.ForLabels(c, func(key, value string) bool {
			got[key] = value
			return true
		})
	})

	assert.Equal(t, "rotate", got[telemetry.ProfilingLabelOperation])
	assert.NotContains(t, got, "matter_id")
	assert.NotContains(t, got, "request_id")
}

func TestWithProfilingLabels_AllLabelsDropped(t *testing.T) {
	called := false
	labels := map[string]string{
		"user_id": "user-123",
		"":        "value",
		"region":  "",
	}
	telemetry.WithProfilingLabels(context.Background(), labels, func(c context.Context) {
		called = true
	})
	assert.True(t, called)
}

func TestWithProfilingLabels_TruncatesLongValues(t *testing.T) {
	longValue := strings.Repeat("x", telemetry.MaxLabelValueLength+50)

	var got string
	telemetry.WithProfilingLabels(context.Background(), map[string]string{"region": longValue}, func(c context.Context) {
		pprof.ForLabels(c, func(key, value string) bool {
			if key == "region" {
				got = value
			}
			return true
		})
	})

	assert.Len(t, got, telemetry.MaxLabelValueLength)
}

func TestWithProfilingLabels_NormalizesKeys(t *testing.T) {
	var got map[string]string
	telemetry.WithProfilingLabels(context.Background(), map[string]string{"Practice Area": "litigation"}, func(c context.Context) {
		got = make(map[string]string)
		pprof.ForLabels(c, func(key, value string) bool {
			got[key] = value
			return true
		})
	})

	assert.Equal(t, "litigation", got["practice_area"])
}

func TestWithProfilingLabels_CallerMapNotMutated(t *testing.T) {
	labels := map[string]string{"region": "cache_rebuild"}
	telemetry.WithProfilingLabels(context.Background(), labels, func(c context.Context) {})
	assert.Equal(t, map[string]string{"region": "cache_rebuild"}, labels)
}

func TestOperationLabels(t *testing.T) {
	labels := telemetry.OperationLabels("rotate", nil)
	assert.Equal(t, "rotate", labels[telemetry.ProfilingLabelOperation])
	assert.Len(t, labels, 1)

	labels = telemetry.OperationLabels("rotate", map[string]string{
		telemetry.ProfilingLabelTenantID: "firm-1",
	})
	assert.Equal(t, "rotate", labels[telemetry.ProfilingLabelOperation])
	assert.Equal(t, "firm-1", labels[telemetry.ProfilingLabelTenantID])
}

func TestRegionLabels(t *testing.T) {
	labels := telemetry.RegionLabels("reencrypt", nil)
	assert.Equal(t, "reencrypt", labels[telemetry.ProfilingLabelRegion])
	assert.Len(t, labels, 1)
}
