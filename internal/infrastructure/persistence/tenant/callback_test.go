package tenant

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupCallbackMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func TestCallback_Register(t *testing.T) {
	db, _, mockDB := setupCallbackMockDB(t)
	defer mockDB.Close()

	tc := NewCallback("tenant_id", true)

	// Should not panic
	tc.Register(db)
}

func TestNewCallback_DefaultColumn(t *testing.T) {
	tc := NewCallback("", true)
	assert.Equal(t, "tenant_id", tc.tenantColumn)
	assert.True(t, tc.required)
}

func TestCallback_InjectsTenantFilter(t *testing.T) {
	t.Run("query without explicit scope still gets the predicate", func(t *testing.T) {
		db, mock, mockDB := setupCallbackMockDB(t)
		defer mockDB.Close()

		EnableAutoTenantFilter(db, true)

		tenantID := uuid.New()
		ctx := tenantContext(tenantID)

		mock.ExpectQuery(`SELECT \* FROM "test_models" WHERE "test_models"\."tenant_id" = \$1`).
			WithArgs(tenantID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

		var results []TestModel
		err := db.WithContext(ctx).Find(&results).Error
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not duplicate an existing tenant predicate", func(t *testing.T) {
		db, mock, mockDB := setupCallbackMockDB(t)
		defer mockDB.Close()

		EnableAutoTenantFilter(db, true)

		tenantID := uuid.New()
		ctx := tenantContext(tenantID)

		mock.ExpectQuery(`SELECT \* FROM "test_models" WHERE tenant_id = \$1`).
			WithArgs(tenantID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

		var results []TestModel
		err := db.WithContext(ctx).Scopes(Scope(tenantID)).Find(&results).Error
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCallback_RequiredEnforcement(t *testing.T) {
	t.Run("errors when tenant identity is missing", func(t *testing.T) {
		db, _, mockDB := setupCallbackMockDB(t)
		defer mockDB.Close()

		EnableAutoTenantFilter(db, true)

		var results []TestModel
		err := db.WithContext(context.Background()).Find(&results).Error

		assert.ErrorIs(t, err, ErrTenantRequired)
	})

	t.Run("allows query without tenant when not required", func(t *testing.T) {
		db, mock, mockDB := setupCallbackMockDB(t)
		defer mockDB.Close()

		EnableAutoTenantFilter(db, false)

		mock.ExpectQuery(`SELECT \* FROM "test_models"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

		var results []TestModel
		err := db.WithContext(context.Background()).Find(&results).Error
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCallback_UnscopedBypass(t *testing.T) {
	t.Run("unscoped queries skip the filter", func(t *testing.T) {
		db, mock, mockDB := setupCallbackMockDB(t)
		defer mockDB.Close()

		EnableAutoTenantFilter(db, true)

		mock.ExpectQuery(`SELECT \* FROM "test_models"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

		var results []TestModel
		err := db.WithContext(context.Background()).Unscoped().Find(&results).Error
		require.NoError(t, err)

		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCallback_Remove(t *testing.T) {
	db, mock, mockDB := setupCallbackMockDB(t)
	defer mockDB.Close()

	tc := NewCallback("tenant_id", true)
	tc.Register(db)
	tc.Remove(db)

	mock.ExpectQuery(`SELECT \* FROM "test_models"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}))

	var results []TestModel
	err := db.WithContext(context.Background()).Find(&results).Error
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
