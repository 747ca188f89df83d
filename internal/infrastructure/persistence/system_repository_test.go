package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSystemRepo(t *testing.T) (*SystemRepository, *GormAuditRepository, *gorm.DB) {
	db := setupKeyTestDB(t)
	audit := NewGormAuditRepository(db)
	return NewSystemRepository(db, rls.NewDisabledBridge(), audit, nil), audit, db
}

func TestSystemRepository_RunForTenant(t *testing.T) {
	t.Run("rejects empty justification", func(t *testing.T) {
		repo, _, _ := newSystemRepo(t)

		err := repo.RunForTenant(context.Background(), uuid.New(), "  ", func(tx *gorm.DB) error {
			t.Fatal("must not run")
			return nil
		})
		require.Error(t, err)

		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "JUSTIFICATION_REQUIRED", domainErr.Code)
	})

	t.Run("rejects the nil tenant", func(t *testing.T) {
		repo, _, _ := newSystemRepo(t)

		err := repo.RunForTenant(context.Background(), uuid.Nil, "maintenance", func(tx *gorm.DB) error {
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("writes the audit record before running", func(t *testing.T) {
		repo, audit, _ := newSystemRepo(t)
		target := uuid.New()

		err := repo.RunForTenant(context.Background(), target, "key rotation batch", func(tx *gorm.DB) error {
			return assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		// The failed operation still left a trace.
		records, err := audit.FindByTarget(context.Background(), target, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, security.AuditActionElevatedAccess, records[0].Action)
		assert.Equal(t, "key rotation batch", records[0].Justification)
	})

	t.Run("pins the worker context to the target tenant", func(t *testing.T) {
		repo, _, _ := newSystemRepo(t)
		target := uuid.New()

		err := repo.RunForTenant(context.Background(), target, "migration", func(tx *gorm.DB) error {
			tenantID, err := tenancy.CurrentTenant(tx.Statement.Context)
			require.NoError(t, err)
			assert.Equal(t, target, tenantID)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("records the acting identity when present", func(t *testing.T) {
		repo, audit, _ := newSystemRepo(t)
		actorTenant := uuid.New()
		actorUser := uuid.New()
		target := uuid.New()

		ctx := tenancy.WithContext(context.Background(), tenancy.Context{
			TenantID: actorTenant,
			UserID:   actorUser,
			Role:     tenancy.RoleStandard,
		})

		require.NoError(t, repo.RunForTenant(ctx, target, "support ticket 4821", func(tx *gorm.DB) error {
			return nil
		}))

		records, err := audit.FindByTarget(context.Background(), target, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, actorTenant, records[0].TenantID)
		assert.Equal(t, actorUser, records[0].ActorUserID)
	})
}

func TestSystemRepository_Context(t *testing.T) {
	repo, audit, _ := newSystemRepo(t)
	target := uuid.New()

	ctx, err := repo.Context(context.Background(), target, "scheduled re-encryption")
	require.NoError(t, err)

	tc, err := tenancy.FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, tc.TenantID)
	assert.Equal(t, tenancy.RoleSystem, tc.Role)

	records, err := audit.FindByTarget(context.Background(), target, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
