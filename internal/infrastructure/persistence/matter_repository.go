package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"gorm.io/gorm"
)

// GormMatterRepository implements legal.MatterRepository using GORM
type GormMatterRepository struct {
	*TenantRepository[legal.Matter, *legal.Matter]
	db     *gorm.DB
	bridge *rls.Bridge
}

// NewGormMatterRepository creates a new GormMatterRepository
func NewGormMatterRepository(db *gorm.DB, bridge *rls.Bridge, outbox shared.OutboxEventSaver) *GormMatterRepository {
	return &GormMatterRepository{
		TenantRepository: NewTenantRepository[legal.Matter, *legal.Matter](
			db, bridge, outbox, legal.EntityMatter, MatterSortFields,
		),
		db:     db,
		bridge: bridge,
	}
}

// FindByCode finds a matter by code within the active tenant
func (r *GormMatterRepository) FindByCode(ctx context.Context, code string) (*legal.Matter, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	var matter legal.Matter
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		return tx.
			Where("tenant_id = ? AND code = ?", tenantID, strings.ToUpper(strings.TrimSpace(code))).
			First(&matter).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFoundOrForbidden
		}
		return nil, err
	}
	return &matter, nil
}

// FindByClient finds matters for a client within the active tenant
func (r *GormMatterRepository) FindByClient(ctx context.Context, clientID uuid.UUID, filter shared.Filter) ([]legal.Matter, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	var matters []legal.Matter
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		query := tx.Model(&legal.Matter{}).
			Where("tenant_id = ? AND client_id = ?", tenantID, clientID)
		return ApplyFilter(query, filter, MatterSortFields).Find(&matters).Error
	})
	if err != nil {
		return nil, err
	}
	return matters, nil
}

// FindByStatus finds matters by status within the active tenant
func (r *GormMatterRepository) FindByStatus(ctx context.Context, status legal.MatterStatus, filter shared.Filter) ([]legal.Matter, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	var matters []legal.Matter
	err = r.bridge.TransactionForTenant(ctx, r.db, tenantID, func(tx *gorm.DB) error {
		query := tx.Model(&legal.Matter{}).
			Where("tenant_id = ? AND status = ?", tenantID, status)
		return ApplyFilter(query, filter, MatterSortFields).Find(&matters).Error
	})
	if err != nil {
		return nil, err
	}
	return matters, nil
}

// Ensure GormMatterRepository implements MatterRepository
var _ legal.MatterRepository = (*GormMatterRepository)(nil)
