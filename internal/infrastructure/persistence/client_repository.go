package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"gorm.io/gorm"
)

// GormClientRepository implements legal.ClientRepository using GORM
type GormClientRepository struct {
	*TenantRepository[legal.Client, *legal.Client]
	db     *gorm.DB
	bridge *rls.Bridge
}

// NewGormClientRepository creates a new GormClientRepository
func NewGormClientRepository(db *gorm.DB, bridge *rls.Bridge, outbox shared.OutboxEventSaver) *GormClientRepository {
	return &GormClientRepository{
		TenantRepository: NewTenantRepository[legal.Client, *legal.Client](
			db, bridge, outbox, legal.EntityClient, ClientSortFields,
		),
		db:     db,
		bridge: bridge,
	}
}

// FindByKeyID returns a page of the active tenant's clients whose encrypted
// fields still reference keyID, ordered by id. Rotation walks these pages
// with an ascending cursor so an interrupted run resumes where it stopped.
func (r *GormClientRepository) FindByKeyID(ctx context.Context, keyID uuid.UUID, afterCursor uuid.UUID, limit int) ([]legal.Client, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var clients []legal.Client
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		query := tx.Model(&legal.Client{}).
			Where("tenant_id = ? AND key_id = ?", tenantID, keyID)
		if afterCursor != uuid.Nil {
			query = query.Where("id > ?", afterCursor)
		}
		return query.Order("id ASC").Limit(limit).Find(&clients).Error
	})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// CountByKeyID counts the active tenant's clients still referencing keyID
func (r *GormClientRepository) CountByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.Model(&legal.Client{}).
			Where("tenant_id = ? AND key_id = ?", tenantID, keyID).
			Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure GormClientRepository implements ClientRepository
var _ legal.ClientRepository = (*GormClientRepository)(nil)
