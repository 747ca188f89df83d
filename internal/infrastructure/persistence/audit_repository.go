package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/security"
	"gorm.io/gorm"
)

// GormAuditRepository implements security.AuditRepository using GORM.
// The trail is append-only; there is no update or delete path.
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository creates a new GormAuditRepository
func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

// Append writes an audit record
func (r *GormAuditRepository) Append(ctx context.Context, record *security.AuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByTarget returns records about operations on a tenant since the cutoff
func (r *GormAuditRepository) FindByTarget(ctx context.Context, targetTenantID uuid.UUID, since time.Time) ([]security.AuditRecord, error) {
	var records []security.AuditRecord
	err := r.db.WithContext(ctx).Unscoped().
		Where("target_tenant_id = ? AND created_at >= ?", targetTenantID, since).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ensure GormAuditRepository implements AuditRepository
var _ security.AuditRepository = (*GormAuditRepository)(nil)
