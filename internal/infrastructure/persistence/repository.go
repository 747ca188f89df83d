// Package persistence implements the tenant-scoped data access layer on GORM.
//
// Every repository resolves the active tenant from the request context; a
// missing identity fails the operation before any SQL is issued. Reads carry
// an explicit tenant predicate on top of the row-security policies, and
// mutations run conditional writes (WHERE id AND tenant_id) whose zero
// rows-affected result is reported as ErrNotFoundOrForbidden without
// distinguishing the two cases.
package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"gorm.io/gorm"
)

// Aggregate is the pointer constraint for entities managed by the generic
// repository. The repository owns tenant stamping and event draining, so the
// aggregate must expose both.
type Aggregate[T any] interface {
	*T
	GetID() uuid.UUID
	GetTenantID() uuid.UUID
	StampTenant(tenantID uuid.UUID)
	GetDomainEvents() []shared.DomainEvent
	ClearDomainEvents()
}

// TenantRepository is a generic GORM repository for tenant-scoped aggregates.
// All statements run inside a transaction pinned to the active tenant through
// the row-security bridge, so both isolation layers apply to every operation.
type TenantRepository[T any, PT Aggregate[T]] struct {
	db         *gorm.DB
	bridge     *rls.Bridge
	outbox     shared.OutboxEventSaver
	entityName string
	sortFields map[string]bool
}

// NewTenantRepository creates a repository for one aggregate type.
// entityName is the logical name used in change events and cache keys, not
// the table name. sortFields whitelists the sortable columns.
func NewTenantRepository[T any, PT Aggregate[T]](
	db *gorm.DB,
	bridge *rls.Bridge,
	outbox shared.OutboxEventSaver,
	entityName string,
	sortFields map[string]bool,
) *TenantRepository[T, PT] {
	if sortFields == nil {
		sortFields = CommonSortFields
	}
	return &TenantRepository[T, PT]{
		db:         db,
		bridge:     bridge,
		outbox:     outbox,
		entityName: entityName,
		sortFields: sortFields,
	}
}

// EntityName returns the logical entity name used in change events
func (r *TenantRepository[T, PT]) EntityName() string {
	return r.entityName
}

// FindByID finds an aggregate by ID within the active tenant
func (r *TenantRepository[T, PT]) FindByID(ctx context.Context, id uuid.UUID) (*T, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	var entity T
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&entity).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFoundOrForbidden
		}
		return nil, err
	}
	return &entity, nil
}

// FindMany finds all aggregates of the active tenant matching the filter
func (r *TenantRepository[T, PT]) FindMany(ctx context.Context, filter shared.Filter) ([]T, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	var entities []T
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		query := tx.Model(new(T)).Where("tenant_id = ?", tenantID)
		query = ApplyFilter(query, filter, r.sortFields)
		return query.Find(&entities).Error
	})
	if err != nil {
		return nil, err
	}
	return entities, nil
}

// Count counts the active tenant's aggregates matching the filter
func (r *TenantRepository[T, PT]) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		query := tx.Model(new(T)).Where("tenant_id = ?", tenantID)
		query = ApplyFilterWithoutPagination(query, filter)
		return query.Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Create persists a new aggregate under the active tenant. Any tenant id the
// caller put on the aggregate is overwritten; the active tenant is the only
// source of ownership. The change event and any pending domain events commit
// in the same transaction as the row.
func (r *TenantRepository[T, PT]) Create(ctx context.Context, entity *T) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return err
	}

	p := PT(entity)
	p.StampTenant(tenantID)

	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		if err := tx.Create(entity).Error; err != nil {
			return err
		}
		return r.saveEvents(ctx, tx, p, tenantID, shared.ChangeActionCreate)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	p.ClearDomainEvents()
	return nil
}

// Update persists changes to an existing aggregate. The write is conditional
// on both id and tenant_id; zero rows affected means the row does not exist
// or belongs to another tenant, and the two are deliberately not
// distinguished. The tenant column is never written.
func (r *TenantRepository[T, PT]) Update(ctx context.Context, entity *T) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return err
	}

	p := PT(entity)
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		result := tx.Model(entity).
			Where("id = ? AND tenant_id = ?", p.GetID(), tenantID).
			Select("*").
			Omit("id", "tenant_id", "created_at").
			Updates(entity)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFoundOrForbidden
		}
		return r.saveEvents(ctx, tx, p, tenantID, shared.ChangeActionUpdate)
	})
	if err != nil {
		return err
	}
	p.ClearDomainEvents()
	return nil
}

// Delete soft-deletes an aggregate of the active tenant
func (r *TenantRepository[T, PT]) Delete(ctx context.Context, id uuid.UUID) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return err
	}

	return r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(new(T))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFoundOrForbidden
		}
		if r.outbox == nil {
			return nil
		}
		event := shared.NewChangeEvent(tenantID, id, r.entityName, shared.ChangeActionDelete)
		return r.outbox.SaveEvents(ctx, tx, event)
	})
}

// saveEvents writes the mutation's change event plus any domain events the
// aggregate accumulated into the outbox, inside the mutation's transaction
func (r *TenantRepository[T, PT]) saveEvents(ctx context.Context, tx *gorm.DB, p PT, tenantID uuid.UUID, action shared.ChangeAction) error {
	if r.outbox == nil {
		return nil
	}
	events := make([]shared.DomainEvent, 0, len(p.GetDomainEvents())+1)
	events = append(events, p.GetDomainEvents()...)
	events = append(events, shared.NewChangeEvent(tenantID, p.GetID(), r.entityName, action))
	return r.outbox.SaveEvents(ctx, tx, events...)
}
