// Package rls is the database-level half of tenant isolation. Every
// tenant-scoped table carries a Postgres row-security policy comparing its
// tenant_id column against the transaction-local setting app.tenant_id
// (see db/migrations). The bridge sets that variable at the start of each
// transaction, before any other statement runs, so the policies see the
// active tenant even for queries that bypass the application-level scope.
//
// SET LOCAL semantics keep the variable transaction-scoped: a pooled
// connection reused by another request never observes a stale tenant.
package rls

import (
	"context"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"gorm.io/gorm"
)

// SessionVar is the transaction-local setting consumed by the row-security
// policies.
const SessionVar = "app.tenant_id"

// Bridge applies the per-transaction tenant setting. Disabled bridges are
// used with databases that have no row-security support (sqlite in unit
// tests); application-level scoping still applies there.
type Bridge struct {
	enabled bool
}

// NewBridge creates an enabled bridge
func NewBridge() *Bridge {
	return &Bridge{enabled: true}
}

// NewDisabledBridge creates a bridge that skips the session variable.
// Unit tests on sqlite use it; production always runs enabled.
func NewDisabledBridge() *Bridge {
	return &Bridge{}
}

// Enabled reports whether the bridge sets the session variable
func (b *Bridge) Enabled() bool {
	return b.enabled
}

// Apply sets the tenant session variable on the given transaction. It must
// run before any other statement in the transaction. set_config with
// is_local=true is the parameterizable form of SET LOCAL.
func (b *Bridge) Apply(tx *gorm.DB, tenantID uuid.UUID) error {
	if !b.enabled {
		return nil
	}
	return tx.Exec("SELECT set_config(?, ?, true)", SessionVar, tenantID.String()).Error
}

// Transaction runs fn inside a transaction whose tenant session variable is
// set to the context's active tenant. Missing tenant identity fails before
// a transaction is opened.
func (b *Bridge) Transaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return err
	}
	return b.TransactionForTenant(ctx, db, tenantID, fn)
}

// TransactionForTenant runs fn inside a transaction pinned to an explicit
// tenant. A transaction is always pinned to exactly one tenant: consultant
// reads spanning tenants run as N independent transactions, one per tenant,
// never as a single transaction with a widened setting.
func (b *Bridge) TransactionForTenant(ctx context.Context, db *gorm.DB, tenantID uuid.UUID, fn func(tx *gorm.DB) error) error {
	if tenantID == uuid.Nil {
		return shared.ErrContextMissing
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := b.Apply(tx, tenantID); err != nil {
			return err
		}
		return fn(tx)
	})
}

// ForEachTenant runs fn once per tenant, each in its own pinned transaction.
// Used for consultant fan-out reads; failures abort the remaining tenants.
func (b *Bridge) ForEachTenant(ctx context.Context, db *gorm.DB, tenantIDs []uuid.UUID, fn func(tenantID uuid.UUID, tx *gorm.DB) error) error {
	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := tenantID
		if err := b.TransactionForTenant(ctx, db, id, func(tx *gorm.DB) error {
			return fn(id, tx)
		}); err != nil {
			return err
		}
	}
	return nil
}
