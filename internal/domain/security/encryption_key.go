// Package security holds the data-protection bounded context: per-tenant
// data encryption keys, the rotation bookkeeping that migrates rows between
// keys, and the audit trail for privileged access.
package security

import (
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
)

// KeyStatus represents the lifecycle status of an encryption key
type KeyStatus string

const (
	// KeyStatusActive keys encrypt new data and decrypt existing data.
	KeyStatusActive KeyStatus = "ACTIVE"
	// KeyStatusDeprecated keys decrypt only; no row still requires them for
	// new writes. Reached after a completed rotation.
	KeyStatusDeprecated KeyStatus = "DEPRECATED"
	// KeyStatusScheduledDeletion keys passed their retention window and wait
	// for destruction by the key-management service.
	KeyStatusScheduledDeletion KeyStatus = "SCHEDULED_DELETION"
)

// EncryptionKey is a per-tenant data encryption key (DEK). WrappedDEK holds
// the key material wrapped by the key-management service; the plaintext key
// only ever exists in memory after an unwrap call.
//
// Invariant: at most one ACTIVE key per tenant, except during rotation when
// the superseded key stays decryptable until every row has been migrated.
type EncryptionKey struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index:idx_enc_keys_tenant"`
	Status     KeyStatus `gorm:"type:varchar(30);not null"`
	Version    int       `gorm:"not null"`
	WrappedDEK []byte    `gorm:"type:bytea;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
	RetiredAt  *time.Time
}

// TableName returns the table name for GORM
func (EncryptionKey) TableName() string {
	return "encryption_keys"
}

// NewEncryptionKey creates an ACTIVE key for a tenant with the given version
func NewEncryptionKey(tenantID uuid.UUID, version int, wrappedDEK []byte) (*EncryptionKey, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT_ID", "Encryption key requires a tenant")
	}
	if len(wrappedDEK) == 0 {
		return nil, shared.NewDomainError("INVALID_KEY_MATERIAL", "Encryption key requires wrapped key material")
	}
	if version < 1 {
		return nil, shared.NewDomainError("INVALID_KEY_VERSION", "Key version must be positive")
	}
	now := time.Now()
	return &EncryptionKey{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Status:     KeyStatusActive,
		Version:    version,
		WrappedDEK: wrappedDEK,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Deprecate retires an active key after all rows migrated away from it
func (k *EncryptionKey) Deprecate() error {
	if k.Status != KeyStatusActive {
		return shared.ErrInvalidState
	}
	now := time.Now()
	k.Status = KeyStatusDeprecated
	k.RetiredAt = &now
	k.UpdatedAt = now
	return nil
}

// ScheduleDeletion marks a deprecated key for destruction once its retention
// window has elapsed.
func (k *EncryptionKey) ScheduleDeletion(retention time.Duration) error {
	if k.Status != KeyStatusDeprecated {
		return shared.ErrInvalidState
	}
	if k.RetiredAt == nil || time.Since(*k.RetiredAt) < retention {
		return shared.NewDomainError("RETENTION_NOT_ELAPSED", "Key retention window has not elapsed")
	}
	k.Status = KeyStatusScheduledDeletion
	k.UpdatedAt = time.Now()
	return nil
}

// IsDecryptable reports whether data encrypted under this key can still be
// read. Only keys scheduled for deletion are off limits.
func (k *EncryptionKey) IsDecryptable() bool {
	return k.Status == KeyStatusActive || k.Status == KeyStatusDeprecated
}
