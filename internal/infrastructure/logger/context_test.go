package logger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestFromContext(t *testing.T) {
	t.Run("returns attached logger", func(t *testing.T) {
		l, _ := observedLogger()
		ctx := WithContext(context.Background(), l)
		assert.Same(t, l, FromContext(ctx))
	})

	t.Run("returns nop logger when absent", func(t *testing.T) {
		assert.NotNil(t, FromContext(context.Background()))
	})
}

func TestWithRequestID(t *testing.T) {
	l, logs := observedLogger()
	ctx, enriched := WithRequestID(context.Background(), l, "req-123")

	assert.Equal(t, "req-123", GetRequestID(ctx))

	enriched.Info("hello")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "req-123", logs.All()[0].ContextMap()["request_id"])
}

func TestContextLogger_TenancyFields(t *testing.T) {
	l, logs := observedLogger()
	tenantID := uuid.New()
	userID := uuid.New()

	ctx := tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID: tenantID,
		UserID:   userID,
		Role:     tenancy.RoleStandard,
	})
	ctx = WithContext(ctx, l)

	L(ctx).Info("scoped operation")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, tenantID.String(), fields["tenant_id"])
	assert.Equal(t, userID.String(), fields["user_id"])
}

func TestContextLogger_NoTenancy(t *testing.T) {
	l, logs := observedLogger()
	ctx := WithContext(context.Background(), l)

	L(ctx).Warn("unscoped operation")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	_, hasTenant := fields["tenant_id"]
	assert.False(t, hasTenant)
}

func TestContextLogger_With(t *testing.T) {
	l, logs := observedLogger()
	ctx := WithContext(context.Background(), l)

	L(ctx).With(zap.String("component", "cache")).Debug("miss")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "cache", logs.All()[0].ContextMap()["component"])
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
	assert.Empty(t, GetSpanID(context.Background()))
}
