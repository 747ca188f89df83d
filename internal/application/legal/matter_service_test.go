package legal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/cache"
	"github.com/lexcore/backend/internal/infrastructure/persistence"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

type noEvents struct{}

func (noEvents) SaveEvents(context.Context, interface{}, ...shared.DomainEvent) error {
	return nil
}

type matterFixture struct {
	db      *gorm.DB
	store   *cache.MemoryStore
	service *MatterService
	tenantA uuid.UUID
	tenantB uuid.UUID
}

func newMatterFixture(t *testing.T) *matterFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&legal.Matter{}, &legal.Client{}))

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	repo := persistence.NewGormMatterRepository(db, rls.NewDisabledBridge(), noEvents{})
	mgr := cache.NewManager(store, cache.NewKeyBuilder("test"), cache.WithJitter(0))

	return &matterFixture{
		db:      db,
		store:   store,
		service: NewMatterService(repo, mgr, tenancy.NewManager(nil, nil), nil),
		tenantA: uuid.New(),
		tenantB: uuid.New(),
	}
}

func (f *matterFixture) ctxFor(tenantID uuid.UUID) context.Context {
	return tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID: tenantID,
		UserID:   uuid.New(),
		Role:     tenancy.RoleStandard,
	})
}

func (f *matterFixture) consultantCtx(home uuid.UUID, granted ...uuid.UUID) context.Context {
	return tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID:            home,
		UserID:              uuid.New(),
		Role:                tenancy.RoleConsultant,
		AccessibleTenantIDs: granted,
	})
}

func (f *matterFixture) openMatter(t *testing.T, ctx context.Context, code string) *MatterView {
	t.Helper()
	view, err := f.service.OpenMatter(ctx, OpenMatterRequest{
		ClientID: uuid.New(),
		Code:     code,
		Title:    "Matter " + code,
	})
	require.NoError(t, err)
	return view
}

func TestMatterService_OpenMatter(t *testing.T) {
	f := newMatterFixture(t)
	ctx := f.ctxFor(f.tenantA)

	view, err := f.service.OpenMatter(ctx, OpenMatterRequest{
		ClientID:     uuid.New(),
		Code:         "est-2026-001",
		Title:        "Estate of Harmon",
		PracticeArea: "estates",
	})
	require.NoError(t, err)
	assert.Equal(t, "EST-2026-001", view.Code, "codes are normalized")
	assert.Equal(t, legal.MatterStatusOpen, view.Status)

	t.Run("without identity", func(t *testing.T) {
		_, err := f.service.OpenMatter(context.Background(), OpenMatterRequest{
			ClientID: uuid.New(), Code: "X-1", Title: "x",
		})
		assert.ErrorIs(t, err, shared.ErrContextMissing)
	})
}

func TestMatterService_GetMatter_ServesFromCache(t *testing.T) {
	f := newMatterFixture(t)
	ctx := f.ctxFor(f.tenantA)
	opened := f.openMatter(t, ctx, "CACHE-1")

	first, err := f.service.GetMatter(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, opened.ID, first.ID)

	// Remove the row behind the cache; a second read must still succeed.
	require.NoError(t, f.db.Exec("DELETE FROM matters").Error)

	second, err := f.service.GetMatter(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMatterService_WriteDropsCachedEntity(t *testing.T) {
	f := newMatterFixture(t)
	ctx := f.ctxFor(f.tenantA)
	opened := f.openMatter(t, ctx, "CLOSE-1")

	before, err := f.service.GetMatter(ctx, opened.ID)
	require.NoError(t, err)
	require.Equal(t, legal.MatterStatusOpen, before.Status)

	_, err = f.service.CloseMatter(ctx, opened.ID)
	require.NoError(t, err)

	after, err := f.service.GetMatter(ctx, opened.ID)
	require.NoError(t, err)
	assert.Equal(t, legal.MatterStatusClosed, after.Status, "stale cached view must not survive the write")
	assert.NotNil(t, after.ClosedAt)
}

func TestMatterService_TenantIsolation(t *testing.T) {
	f := newMatterFixture(t)
	opened := f.openMatter(t, f.ctxFor(f.tenantA), "ISO-1")

	_, err := f.service.GetMatter(f.ctxFor(f.tenantB), opened.ID)
	assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)
}

func TestMatterService_ListMatters(t *testing.T) {
	f := newMatterFixture(t)
	ctx := f.ctxFor(f.tenantA)
	f.openMatter(t, ctx, "LIST-1")
	f.openMatter(t, ctx, "LIST-2")
	f.openMatter(t, f.ctxFor(f.tenantB), "LIST-3")

	page, err := f.service.ListMatters(ctx, shared.DefaultFilter())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.TotalPages)

	t.Run("cached per filter", func(t *testing.T) {
		// A different page is a different key and misses the cache.
		second := shared.DefaultFilter()
		second.Page = 2
		page, err := f.service.ListMatters(ctx, second)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, int64(2), page.Total, "total spans all pages")
	})
}

func TestMatterService_ListMattersAcrossTenants(t *testing.T) {
	f := newMatterFixture(t)
	f.openMatter(t, f.ctxFor(f.tenantA), "OWN-1")
	f.openMatter(t, f.ctxFor(f.tenantB), "VISIT-1")
	f.openMatter(t, f.ctxFor(f.tenantB), "VISIT-2")

	t.Run("consultant sees each granted tenant separately", func(t *testing.T) {
		ctx := f.consultantCtx(f.tenantA, f.tenantB)

		results, err := f.service.ListMattersAcrossTenants(ctx, shared.DefaultFilter())
		require.NoError(t, err)
		require.Len(t, results, 2)

		byTenant := make(map[uuid.UUID]int)
		for _, r := range results {
			byTenant[r.TenantID] = len(r.Matters)
		}
		assert.Equal(t, 1, byTenant[f.tenantA])
		assert.Equal(t, 2, byTenant[f.tenantB])
	})

	t.Run("standard role stays within its own tenant", func(t *testing.T) {
		results, err := f.service.ListMattersAcrossTenants(f.ctxFor(f.tenantA), shared.DefaultFilter())
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, f.tenantA, results[0].TenantID)
	})
}

func TestMatterService_GetMatterByCode(t *testing.T) {
	f := newMatterFixture(t)
	ctx := f.ctxFor(f.tenantA)
	opened := f.openMatter(t, ctx, "CODE-7")

	view, err := f.service.GetMatterByCode(ctx, "code-7")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, view.ID)
}
