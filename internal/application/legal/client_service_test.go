package legal

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/kms"
	"github.com/lexcore/backend/internal/infrastructure/persistence"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

type clientFixture struct {
	db      *gorm.DB
	keys    security.KeyRepository
	keyMgr  kms.KeyManager
	service *ClientService
	tenant  uuid.UUID
	ctx     context.Context
}

func newClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&legal.Client{}, &security.EncryptionKey{}))

	master := bytes.Repeat([]byte{0x2a}, 32)
	keyMgr, err := kms.NewLocalKeyManager(master)
	require.NoError(t, err)

	keys := persistence.NewGormKeyRepository(db)
	clients := persistence.NewGormClientRepository(db, rls.NewDisabledBridge(), noEvents{})

	tenant := uuid.New()
	f := &clientFixture{
		db:      db,
		keys:    keys,
		keyMgr:  keyMgr,
		service: NewClientService(clients, keys, keyMgr, nil),
		tenant:  tenant,
		ctx: tenancy.WithContext(context.Background(), tenancy.Context{
			TenantID: tenant,
			UserID:   uuid.New(),
			Role:     tenancy.RoleStandard,
		}),
	}
	f.mintKey(t, tenant, 1)
	return f
}

func (f *clientFixture) mintKey(t *testing.T, tenantID uuid.UUID, version int) *security.EncryptionKey {
	t.Helper()
	dk, err := f.keyMgr.GenerateDataKey(context.Background(), tenantID)
	require.NoError(t, err)
	key, err := security.NewEncryptionKey(tenantID, version, dk.Wrapped)
	require.NoError(t, err)
	require.NoError(t, f.keys.Save(context.Background(), key))
	return key
}

func TestClientService_CreateAndGet(t *testing.T) {
	f := newClientFixture(t)

	created, err := f.service.CreateClient(f.ctx, CreateClientRequest{
		Name:  "Harmon Estate Trust",
		Email: "trustee@harmon.example",
		Phone: "+1-555-0142",
	})
	require.NoError(t, err)
	assert.Equal(t, "trustee@harmon.example", created.Email)

	t.Run("contact fields are ciphertext at rest", func(t *testing.T) {
		var row legal.Client
		require.NoError(t, f.db.First(&row, "id = ?", created.ID).Error)
		assert.NotEmpty(t, row.EmailCipher)
		assert.NotContains(t, string(row.EmailCipher), "harmon.example")
		assert.NotContains(t, string(row.PhoneCipher), "555")
		assert.NotEqual(t, uuid.Nil, row.KeyID)
	})

	got, err := f.service.GetClient(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "trustee@harmon.example", got.Email)
	assert.Equal(t, "+1-555-0142", got.Phone)
}

func TestClientService_CreateWithoutContact(t *testing.T) {
	f := newClientFixture(t)

	created, err := f.service.CreateClient(f.ctx, CreateClientRequest{Name: "Anon Walk-In"})
	require.NoError(t, err)

	var row legal.Client
	require.NoError(t, f.db.First(&row, "id = ?", created.ID).Error)
	assert.Empty(t, row.EmailCipher)
	assert.Equal(t, uuid.Nil, row.KeyID)

	got, err := f.service.GetClient(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Email)
	assert.Empty(t, got.Phone)
}

func TestClientService_GetDecryptsWithRowKey(t *testing.T) {
	// Rows written under an older key stay readable while a newer key is
	// already active, because reads follow the row's own key reference.
	f := newClientFixture(t)

	created, err := f.service.CreateClient(f.ctx, CreateClientRequest{
		Name:  "Legacy Row",
		Email: "old-key@firm.example",
	})
	require.NoError(t, err)

	old, err := f.keys.FindActive(f.ctx, f.tenant)
	require.NoError(t, err)
	f.mintKey(t, f.tenant, old.Version+1)

	got, err := f.service.GetClient(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "old-key@firm.example", got.Email)
}

func TestClientService_ListClientsCarriesNoContact(t *testing.T) {
	f := newClientFixture(t)

	_, err := f.service.CreateClient(f.ctx, CreateClientRequest{
		Name:  "Listed Client",
		Email: "listed@firm.example",
	})
	require.NoError(t, err)

	views, err := f.service.ListClients(f.ctx, shared.DefaultFilter())
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Listed Client", views[0].Name)
	assert.Empty(t, views[0].Email)
	assert.Empty(t, views[0].Phone)
}

func TestClientService_TenantIsolation(t *testing.T) {
	f := newClientFixture(t)

	created, err := f.service.CreateClient(f.ctx, CreateClientRequest{Name: "Private"})
	require.NoError(t, err)

	otherTenant := uuid.New()
	f.mintKey(t, otherTenant, 1)
	otherCtx := tenancy.WithContext(context.Background(), tenancy.Context{
		TenantID: otherTenant,
		UserID:   uuid.New(),
		Role:     tenancy.RoleStandard,
	})

	_, err = f.service.GetClient(otherCtx, created.ID)
	assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)
}

func TestClientService_DeleteClient(t *testing.T) {
	f := newClientFixture(t)

	created, err := f.service.CreateClient(f.ctx, CreateClientRequest{Name: "Ephemeral"})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteClient(f.ctx, created.ID))

	_, err = f.service.GetClient(f.ctx, created.ID)
	assert.ErrorIs(t, err, shared.ErrNotFoundOrForbidden)
}
