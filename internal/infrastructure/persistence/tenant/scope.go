// Package tenant provides multi-tenant database scoping for GORM.
//
// It is the application-level half of tenant isolation: every query issued
// through a scoped DB carries a WHERE tenant_id = ? predicate taken from the
// tenancy context. The database-level half (row-level security policies fed
// by the rls package) enforces the same boundary independently, so a bug in
// either layer alone cannot leak foreign rows.
//
// Usage:
//
//	db := tenant.NewTenantDB(gormDB)
//	scopedDB := db.WithContext(ctx) // applies the active tenant's filter
//	scopedDB.Find(&matters)         // WHERE tenant_id = '...' is auto-added
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"gorm.io/gorm"
)

// ErrTenantRequired is returned when an operation runs without a tenant
// identity in its context.
var ErrTenantRequired = errors.New("tenant identity is required but not found in context")

// Scope applies tenant filtering to GORM queries
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// TenantDB wraps GORM DB with automatic tenant scoping
type TenantDB struct {
	db       *gorm.DB
	required bool
}

// NewTenantDB creates a new TenantDB. The tenant identity is mandatory:
// queries issued without one fail instead of running unscoped.
func NewTenantDB(db *gorm.DB) *TenantDB {
	return &TenantDB{db: db, required: true}
}

// DB returns the underlying GORM DB without tenant scoping.
// Use with caution - this bypasses tenant isolation.
func (t *TenantDB) DB() *gorm.DB {
	return t.db
}

// WithContext returns a GORM DB scoped to the tenant carried by ctx.
// If no tenant identity is attached and the DB requires one, the returned
// DB errors on any operation.
func (t *TenantDB) WithContext(ctx context.Context) *gorm.DB {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		db := t.db.WithContext(ctx)
		if t.required {
			_ = db.AddError(ErrTenantRequired)
		}
		return db
	}
	return t.db.WithContext(ctx).Scopes(Scope(tenantID))
}

// WithTenant returns a GORM DB scoped to a specific tenant ID. Used by
// system-level workers (key rotation) that iterate tenants explicitly.
func (t *TenantDB) WithTenant(ctx context.Context, tenantID uuid.UUID) *gorm.DB {
	if tenantID == uuid.Nil {
		db := t.db.WithContext(ctx)
		if t.required {
			_ = db.AddError(ErrTenantRequired)
		}
		return db
	}
	return t.db.WithContext(ctx).Scopes(Scope(tenantID))
}

// Transaction executes fn within a database transaction scoped to the
// context's tenant.
func (t *TenantDB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil && t.required {
		return ErrTenantRequired
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tenantID != uuid.Nil {
			tx = tx.Scopes(Scope(tenantID))
		}
		return fn(tx)
	})
}

// Unscoped returns the underlying DB without any tenant scoping.
// WARNING: bypasses tenant isolation. Only system-level operations and
// migrations may use it, and only through the audited elevated-access path.
func (t *TenantDB) Unscoped() *gorm.DB {
	return t.db
}
