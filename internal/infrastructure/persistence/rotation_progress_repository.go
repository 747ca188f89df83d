package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormRotationProgressRepository implements security.RotationProgressRepository.
// Like keys, rotation bookkeeping is system-level and addressed by explicit
// tenant id.
type GormRotationProgressRepository struct {
	db *gorm.DB
}

// NewGormRotationProgressRepository creates a new GormRotationProgressRepository
func NewGormRotationProgressRepository(db *gorm.DB) *GormRotationProgressRepository {
	return &GormRotationProgressRepository{db: db}
}

// Save persists a new rotation run
func (r *GormRotationProgressRepository) Save(ctx context.Context, progress *security.RotationProgress) error {
	return r.db.WithContext(ctx).Create(progress).Error
}

// Update persists cursor advances and state transitions
func (r *GormRotationProgressRepository) Update(ctx context.Context, progress *security.RotationProgress) error {
	result := r.db.WithContext(ctx).Unscoped().
		Model(&security.RotationProgress{}).
		Where("id = ?", progress.ID).
		Select("cursor", "rows_migrated", "status", "last_error", "finished_at", "updated_at").
		Updates(progress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFoundOrForbidden
	}
	return nil
}

// FindResumable returns the tenant's unfinished run, or nil when none exists
func (r *GormRotationProgressRepository) FindResumable(ctx context.Context, tenantID uuid.UUID) (*security.RotationProgress, error) {
	var progress security.RotationProgress
	err := r.db.WithContext(ctx).Unscoped().
		Where("tenant_id = ? AND status IN ?", tenantID, []security.RotationStatus{
			security.RotationStatusInProgress,
			security.RotationStatusFailed,
		}).
		Order("started_at DESC").
		First(&progress).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &progress, nil
}

// FindByTenant returns a tenant's rotation history, newest first
func (r *GormRotationProgressRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]security.RotationProgress, error) {
	var runs []security.RotationProgress
	err := r.db.WithContext(ctx).Unscoped().
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// TenantsWithUnfinishedRuns returns the distinct tenants whose latest run is
// still IN_PROGRESS or FAILED
func (r *GormRotationProgressRepository) TenantsWithUnfinishedRuns(ctx context.Context) ([]uuid.UUID, error) {
	var tenantIDs []uuid.UUID
	err := r.db.WithContext(ctx).Unscoped().
		Model(&security.RotationProgress{}).
		Where("status IN ?", []security.RotationStatus{
			security.RotationStatusInProgress,
			security.RotationStatusFailed,
		}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIDs).Error
	if err != nil {
		return nil, err
	}
	return tenantIDs, nil
}

// Ensure GormRotationProgressRepository implements RotationProgressRepository
var _ security.RotationProgressRepository = (*GormRotationProgressRepository)(nil)
