package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingAuditor struct {
	records []uuid.UUID
	err     error
}

func (a *recordingAuditor) RecordCrossTenantAccess(_ context.Context, _ Context, target uuid.UUID) error {
	a.records = append(a.records, target)
	return a.err
}

func consultantContext(own uuid.UUID, accessible ...uuid.UUID) context.Context {
	return WithContext(context.Background(), Context{
		TenantID:            own,
		UserID:              uuid.New(),
		Role:                RoleConsultant,
		AccessibleTenantIDs: accessible,
	})
}

func TestRunWithTenant(t *testing.T) {
	own := uuid.New()
	target := uuid.New()

	t.Run("runs fn under target tenant and restores caller context", func(t *testing.T) {
		auditor := &recordingAuditor{}
		m := NewManager(auditor, zap.NewNop())
		ctx := consultantContext(own, target)

		var seen uuid.UUID
		err := m.RunWithTenant(ctx, target, func(scoped context.Context) error {
			id, err := CurrentTenant(scoped)
			seen = id
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, target, seen)

		// Caller's context still carries the original tenant.
		id, err := CurrentTenant(ctx)
		require.NoError(t, err)
		assert.Equal(t, own, id)
	})

	t.Run("denies inaccessible tenant", func(t *testing.T) {
		auditor := &recordingAuditor{}
		m := NewManager(auditor, zap.NewNop())
		ctx := consultantContext(own, target)

		err := m.RunWithTenant(ctx, uuid.New(), func(context.Context) error {
			t.Fatal("fn must not run for a denied tenant")
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrTenantAccessDenied)
		assert.Empty(t, auditor.records)
	})

	t.Run("denies standard role cross-tenant", func(t *testing.T) {
		m := NewManager(nil, zap.NewNop())
		ctx := standardContext(own)

		err := m.RunWithTenant(ctx, target, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, shared.ErrTenantAccessDenied)
	})

	t.Run("fails without context", func(t *testing.T) {
		m := NewManager(nil, zap.NewNop())
		err := m.RunWithTenant(context.Background(), target, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, shared.ErrContextMissing)
	})

	t.Run("audits cross-tenant override before fn", func(t *testing.T) {
		auditor := &recordingAuditor{}
		m := NewManager(auditor, zap.NewNop())
		ctx := consultantContext(own, target)

		fnErr := errors.New("downstream failure")
		err := m.RunWithTenant(ctx, target, func(context.Context) error { return fnErr })
		assert.ErrorIs(t, err, fnErr)
		// The access is recorded even though fn failed.
		assert.Equal(t, []uuid.UUID{target}, auditor.records)
	})

	t.Run("same-tenant run is not audited", func(t *testing.T) {
		auditor := &recordingAuditor{}
		m := NewManager(auditor, zap.NewNop())
		ctx := consultantContext(own, target)

		require.NoError(t, m.RunWithTenant(ctx, own, func(context.Context) error { return nil }))
		assert.Empty(t, auditor.records)
	})

	t.Run("audit failure does not block the operation", func(t *testing.T) {
		auditor := &recordingAuditor{err: errors.New("sink down")}
		m := NewManager(auditor, zap.NewNop())
		ctx := consultantContext(own, target)

		ran := false
		err := m.RunWithTenant(ctx, target, func(context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("caller context intact after fn panics", func(t *testing.T) {
		m := NewManager(nil, zap.NewNop())
		ctx := consultantContext(own, target)

		require.Panics(t, func() {
			_ = m.RunWithTenant(ctx, target, func(context.Context) error {
				panic("boom")
			})
		})

		id, err := CurrentTenant(ctx)
		require.NoError(t, err)
		assert.Equal(t, own, id)
	})
}

func TestForEachAccessibleTenant(t *testing.T) {
	own := uuid.New()
	a := uuid.New()
	b := uuid.New()

	t.Run("consultant fans out over own plus accessible tenants", func(t *testing.T) {
		m := NewManager(&recordingAuditor{}, zap.NewNop())
		ctx := consultantContext(own, a, b)

		var visited []uuid.UUID
		err := m.ForEachAccessibleTenant(ctx, func(scoped context.Context, tenantID uuid.UUID) error {
			current, err := CurrentTenant(scoped)
			require.NoError(t, err)
			assert.Equal(t, tenantID, current)
			visited = append(visited, tenantID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{own, a, b}, visited)
	})

	t.Run("standard role visits only its own tenant", func(t *testing.T) {
		m := NewManager(nil, zap.NewNop())
		ctx := standardContext(own)

		var visited []uuid.UUID
		err := m.ForEachAccessibleTenant(ctx, func(_ context.Context, tenantID uuid.UUID) error {
			visited = append(visited, tenantID)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{own}, visited)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		m := NewManager(&recordingAuditor{}, zap.NewNop())
		base, cancel := context.WithCancel(context.Background())
		ctx := WithContext(base, Context{
			TenantID:            own,
			UserID:              uuid.New(),
			Role:                RoleConsultant,
			AccessibleTenantIDs: []uuid.UUID{a, b},
		})

		var visited int
		err := m.ForEachAccessibleTenant(ctx, func(context.Context, uuid.UUID) error {
			visited++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, visited)
	})
}
