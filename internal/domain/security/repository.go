package security

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KeyRepository persists encryption keys. Keys are system-level rows: they
// are looked up by explicit tenant id, not through the tenant context, so
// the rotation worker can operate across tenants.
type KeyRepository interface {
	Save(ctx context.Context, key *EncryptionKey) error
	Update(ctx context.Context, key *EncryptionKey) error
	FindByID(ctx context.Context, id uuid.UUID) (*EncryptionKey, error)
	FindActive(ctx context.Context, tenantID uuid.UUID) (*EncryptionKey, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]EncryptionKey, error)
	// MaxVersion returns the highest key version for a tenant, 0 when none.
	MaxVersion(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// RotationProgressRepository persists rotation bookkeeping
type RotationProgressRepository interface {
	Save(ctx context.Context, progress *RotationProgress) error
	Update(ctx context.Context, progress *RotationProgress) error
	// FindResumable returns the unfinished run for a tenant, or nil.
	FindResumable(ctx context.Context, tenantID uuid.UUID) (*RotationProgress, error)
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]RotationProgress, error)
	// TenantsWithUnfinishedRuns returns the tenants that have a run in
	// IN_PROGRESS or FAILED state, for the boot-time resume sweep.
	TenantsWithUnfinishedRuns(ctx context.Context) ([]uuid.UUID, error)
}

// AuditRepository appends to and queries the audit trail
type AuditRepository interface {
	Append(ctx context.Context, record *AuditRecord) error
	FindByTarget(ctx context.Context, targetTenantID uuid.UUID, since time.Time) ([]AuditRecord, error)
}

// RotationLock guards one rotation run per tenant. Implementations must be
// safe across processes; the in-process fallback exists for tests.
type RotationLock interface {
	// Acquire takes the lock for a tenant, returning false when another
	// holder has it.
	Acquire(ctx context.Context, tenantID uuid.UUID, ttl time.Duration) (bool, error)
	// Refresh extends a held lock; rotation refreshes once per batch so a
	// long re-encryption never loses its lock mid-run.
	Refresh(ctx context.Context, tenantID uuid.UUID, ttl time.Duration) error
	// Release drops the lock.
	Release(ctx context.Context, tenantID uuid.UUID) error
}
