package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// captureOutbox records events handed to the outbox without persisting them
type captureOutbox struct {
	events []shared.DomainEvent
}

func (c *captureOutbox) SaveEvents(_ context.Context, _ interface{}, events ...shared.DomainEvent) error {
	c.events = append(c.events, events...)
	return nil
}

func (c *captureOutbox) changeEvents() []*shared.ChangeEvent {
	var out []*shared.ChangeEvent
	for _, e := range c.events {
		if ce, ok := e.(*shared.ChangeEvent); ok {
			out = append(out, ce)
		}
	}
	return out
}

func setupRepoTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&legal.Matter{}, &legal.Client{})
	require.NoError(t, err)

	// Mirrors the production DDL, where (tenant_id, code) is unique.
	err = db.Exec("CREATE UNIQUE INDEX idx_matters_tenant_code ON matters(tenant_id, code)").Error
	require.NoError(t, err)

	return db
}

func repoTenantContext(tenantID uuid.UUID) context.Context {
	return tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID: tenantID,
		UserID:   uuid.New(),
		Role:     tenancy.RoleStandard,
	})
}

func newMatterRepo(t *testing.T) (*GormMatterRepository, *captureOutbox, *gorm.DB) {
	db := setupRepoTestDB(t)
	outbox := &captureOutbox{}
	// Disabled bridge: sqlite has no row security; the application-level
	// predicate is exactly what these tests pin down.
	repo := NewGormMatterRepository(db, rls.NewDisabledBridge(), outbox)
	return repo, outbox, db
}

func mustNewMatter(t *testing.T, tenantID uuid.UUID, code string) *legal.Matter {
	matter, err := legal.NewMatter(tenantID, uuid.New(), code, "Estate of "+code)
	require.NoError(t, err)
	return matter
}

func TestTenantRepository_Create(t *testing.T) {
	t.Run("stamps the active tenant regardless of caller input", func(t *testing.T) {
		repo, outbox, _ := newMatterRepo(t)
		tenantID := uuid.New()
		foreignTenant := uuid.New()
		ctx := repoTenantContext(tenantID)

		matter := mustNewMatter(t, foreignTenant, "M-100")
		require.NoError(t, repo.Create(ctx, matter))

		assert.Equal(t, tenantID, matter.GetTenantID())

		found, err := repo.FindByID(ctx, matter.GetID())
		require.NoError(t, err)
		assert.Equal(t, tenantID, found.GetTenantID())

		changes := outbox.changeEvents()
		require.Len(t, changes, 1)
		assert.Equal(t, shared.ChangeActionCreate, changes[0].Action)
		assert.Equal(t, legal.EntityMatter, changes[0].Entity)
		assert.Equal(t, tenantID, changes[0].TenantID())
	})

	t.Run("drains domain events into the outbox", func(t *testing.T) {
		repo, outbox, _ := newMatterRepo(t)
		ctx := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-101")
		require.NotEmpty(t, matter.GetDomainEvents())

		require.NoError(t, repo.Create(ctx, matter))

		assert.Empty(t, matter.GetDomainEvents())
		// Opened event plus the change event.
		assert.Len(t, outbox.events, 2)
	})

	t.Run("fails without tenant identity", func(t *testing.T) {
		repo, _, _ := newMatterRepo(t)

		matter := mustNewMatter(t, uuid.Nil, "M-102")
		err := repo.Create(context.Background(), matter)

		assert.ErrorIs(t, err, shared.ErrContextMissing)
	})

	t.Run("reports duplicate codes within a tenant", func(t *testing.T) {
		repo, _, _ := newMatterRepo(t)
		ctx := repoTenantContext(uuid.New())

		require.NoError(t, repo.Create(ctx, mustNewMatter(t, uuid.Nil, "M-103")))
		err := repo.Create(ctx, mustNewMatter(t, uuid.Nil, "M-103"))

		assert.ErrorIs(t, err, shared.ErrAlreadyExists)
	})
}

func TestTenantRepository_FindByID(t *testing.T) {
	repo, _, _ := newMatterRepo(t)
	tenantA := uuid.New()
	tenantB := uuid.New()
	ctxA := repoTenantContext(tenantA)
	ctxB := repoTenantContext(tenantB)

	matter := mustNewMatter(t, uuid.Nil, "M-200")
	require.NoError(t, repo.Create(ctxA, matter))

	t.Run("finds own tenant's row", func(t *testing.T) {
		found, err := repo.FindByID(ctxA, matter.GetID())
		require.NoError(t, err)
		assert.Equal(t, matter.GetID(), found.GetID())
	})

	t.Run("another tenant gets not-found, not forbidden", func(t *testing.T) {
		found, err := repo.FindByID(ctxB, matter.GetID())
		assert.Nil(t, found)
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)
	})

	t.Run("missing row and foreign row are indistinguishable", func(t *testing.T) {
		_, errMissing := repo.FindByID(ctxA, uuid.New())
		_, errForeign := repo.FindByID(ctxB, matter.GetID())
		assert.Equal(t, errMissing, errForeign)
	})

	t.Run("fails without tenant identity", func(t *testing.T) {
		_, err := repo.FindByID(context.Background(), matter.GetID())
		assert.ErrorIs(t, err, shared.ErrContextMissing)
	})
}

func TestTenantRepository_FindMany(t *testing.T) {
	repo, _, _ := newMatterRepo(t)
	tenantA := uuid.New()
	tenantB := uuid.New()
	ctxA := repoTenantContext(tenantA)
	ctxB := repoTenantContext(tenantB)

	for _, code := range []string{"A-1", "A-2", "A-3"} {
		require.NoError(t, repo.Create(ctxA, mustNewMatter(t, uuid.Nil, code)))
	}
	require.NoError(t, repo.Create(ctxB, mustNewMatter(t, uuid.Nil, "B-1")))

	t.Run("returns only the active tenant's rows", func(t *testing.T) {
		matters, err := repo.FindMany(ctxA, shared.DefaultFilter())
		require.NoError(t, err)
		require.Len(t, matters, 3)
		for _, m := range matters {
			assert.Equal(t, tenantA, m.GetTenantID())
		}
	})

	t.Run("count follows the same boundary", func(t *testing.T) {
		count, err := repo.Count(ctxB, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("pagination within the tenant", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.PageSize = 2
		filter.OrderBy = "code"
		filter.OrderDir = "asc"

		matters, err := repo.FindMany(ctxA, filter)
		require.NoError(t, err)
		assert.Len(t, matters, 2)
	})

	t.Run("unlisted sort columns fall back to the default", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.OrderBy = "code; DROP TABLE matters"

		_, err := repo.FindMany(ctxA, filter)
		require.NoError(t, err)

		count, err := repo.Count(ctxA, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})
}

func TestTenantRepository_Update(t *testing.T) {
	t.Run("updates own tenant's row", func(t *testing.T) {
		repo, outbox, _ := newMatterRepo(t)
		ctx := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-300")
		require.NoError(t, repo.Create(ctx, matter))

		require.NoError(t, matter.Rename("Renamed matter"))
		require.NoError(t, repo.Update(ctx, matter))

		found, err := repo.FindByID(ctx, matter.GetID())
		require.NoError(t, err)
		assert.Equal(t, "Renamed matter", found.Title)

		changes := outbox.changeEvents()
		require.Len(t, changes, 2)
		assert.Equal(t, shared.ChangeActionUpdate, changes[1].Action)
	})

	t.Run("cross-tenant update affects nothing", func(t *testing.T) {
		repo, _, _ := newMatterRepo(t)
		tenantA := uuid.New()
		ctxA := repoTenantContext(tenantA)
		ctxB := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-301")
		require.NoError(t, repo.Create(ctxA, matter))

		require.NoError(t, matter.Rename("Hijacked"))
		err := repo.Update(ctxB, matter)
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)

		found, err := repo.FindByID(ctxA, matter.GetID())
		require.NoError(t, err)
		assert.NotEqual(t, "Hijacked", found.Title)
		assert.Equal(t, tenantA, found.GetTenantID())
	})

	t.Run("tenant column survives the update untouched", func(t *testing.T) {
		repo, _, db := newMatterRepo(t)
		tenantID := uuid.New()
		ctx := repoTenantContext(tenantID)

		matter := mustNewMatter(t, uuid.Nil, "M-302")
		require.NoError(t, repo.Create(ctx, matter))

		// Simulate a caller tampering with ownership before saving. The
		// write itself succeeds; the tenant column is simply never written.
		matter.TenantID = uuid.New()
		require.NoError(t, matter.Rename("Still mine"))
		require.NoError(t, repo.Update(ctx, matter))

		var stored legal.Matter
		require.NoError(t, db.Unscoped().First(&stored, "id = ?", matter.GetID()).Error)
		assert.Equal(t, tenantID, stored.GetTenantID())
		assert.Equal(t, "Still mine", stored.Title)
	})

	t.Run("vanished row reports not-found-or-forbidden", func(t *testing.T) {
		repo, _, _ := newMatterRepo(t)
		ctx := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-303")
		// Never created.
		err := repo.Update(ctx, matter)
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)
	})
}

func TestTenantRepository_Delete(t *testing.T) {
	t.Run("soft-deletes own tenant's row", func(t *testing.T) {
		repo, outbox, db := newMatterRepo(t)
		ctx := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-400")
		require.NoError(t, repo.Create(ctx, matter))
		require.NoError(t, repo.Delete(ctx, matter.GetID()))

		_, err := repo.FindByID(ctx, matter.GetID())
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)

		// Row still exists underneath the soft delete.
		var count int64
		require.NoError(t, db.Unscoped().Model(&legal.Matter{}).
			Where("id = ?", matter.GetID()).Count(&count).Error)
		assert.Equal(t, int64(1), count)

		changes := outbox.changeEvents()
		assert.Equal(t, shared.ChangeActionDelete, changes[len(changes)-1].Action)
	})

	t.Run("cross-tenant delete affects nothing", func(t *testing.T) {
		repo, _, _ := newMatterRepo(t)
		ctxA := repoTenantContext(uuid.New())
		ctxB := repoTenantContext(uuid.New())

		matter := mustNewMatter(t, uuid.Nil, "M-401")
		require.NoError(t, repo.Create(ctxA, matter))

		err := repo.Delete(ctxB, matter.GetID())
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)

		found, err := repo.FindByID(ctxA, matter.GetID())
		require.NoError(t, err)
		assert.NotNil(t, found)
	})
}

func TestTenantRepository_ConsultantAccess(t *testing.T) {
	repo, _, _ := newMatterRepo(t)
	manager := tenancy.NewManager(nil, nil)

	tenantA := uuid.New()
	tenantB := uuid.New()

	matter := mustNewMatter(t, uuid.Nil, "M-500")
	require.NoError(t, repo.Create(repoTenantContext(tenantB), matter))

	consultantCtx := tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID:            tenantA,
		UserID:              uuid.New(),
		Role:                tenancy.RoleConsultant,
		AccessibleTenantIDs: []uuid.UUID{tenantB},
	})

	t.Run("reads a granted tenant only through an override context", func(t *testing.T) {
		// The consultant's own context sees nothing of tenant B.
		_, err := repo.FindByID(consultantCtx, matter.GetID())
		assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)

		err = manager.RunWithTenant(consultantCtx, tenantB, func(ctx context.Context) error {
			found, err := repo.FindByID(ctx, matter.GetID())
			if err != nil {
				return err
			}
			assert.Equal(t, tenantB, found.GetTenantID())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ungranted tenants stay closed", func(t *testing.T) {
		err := manager.RunWithTenant(consultantCtx, uuid.New(), func(ctx context.Context) error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrTenantAccessDenied)
	})
}
