package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormKeyRepository implements security.KeyRepository using GORM.
//
// Encryption keys are system rows: the rotation worker addresses tenants
// explicitly, so queries here take a tenant id parameter and bypass the
// context-driven tenant callback via Unscoped sessions. The table carries no
// row-security policy.
type GormKeyRepository struct {
	db *gorm.DB
}

// NewGormKeyRepository creates a new GormKeyRepository
func NewGormKeyRepository(db *gorm.DB) *GormKeyRepository {
	return &GormKeyRepository{db: db}
}

// Save persists a new encryption key
func (r *GormKeyRepository) Save(ctx context.Context, key *security.EncryptionKey) error {
	err := r.db.WithContext(ctx).Create(key).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return shared.ErrAlreadyExists
	}
	return err
}

// Update persists key state transitions
func (r *GormKeyRepository) Update(ctx context.Context, key *security.EncryptionKey) error {
	result := r.db.WithContext(ctx).Unscoped().
		Model(&security.EncryptionKey{}).
		Where("id = ?", key.ID).
		Select("status", "retired_at", "updated_at").
		Updates(key)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFoundOrForbidden
	}
	return nil
}

// FindByID finds a key by its id
func (r *GormKeyRepository) FindByID(ctx context.Context, id uuid.UUID) (*security.EncryptionKey, error) {
	var key security.EncryptionKey
	err := r.db.WithContext(ctx).Unscoped().First(&key, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFoundOrForbidden
		}
		return nil, err
	}
	return &key, nil
}

// FindActive returns the tenant's single ACTIVE key
func (r *GormKeyRepository) FindActive(ctx context.Context, tenantID uuid.UUID) (*security.EncryptionKey, error) {
	var key security.EncryptionKey
	err := r.db.WithContext(ctx).Unscoped().
		Where("tenant_id = ? AND status = ?", tenantID, security.KeyStatusActive).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFoundOrForbidden
		}
		return nil, err
	}
	return &key, nil
}

// FindByTenant returns all of a tenant's keys, newest version first
func (r *GormKeyRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]security.EncryptionKey, error) {
	var keys []security.EncryptionKey
	err := r.db.WithContext(ctx).Unscoped().
		Where("tenant_id = ?", tenantID).
		Order("version DESC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// MaxVersion returns the highest key version for a tenant, 0 when none
func (r *GormKeyRepository) MaxVersion(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var version *int
	err := r.db.WithContext(ctx).Unscoped().
		Model(&security.EncryptionKey{}).
		Where("tenant_id = ?", tenantID).
		Select("MAX(version)").
		Scan(&version).Error
	if err != nil {
		return 0, err
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

// Ensure GormKeyRepository implements KeyRepository
var _ security.KeyRepository = (*GormKeyRepository)(nil)
