package security

import (
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
)

// AuditAction classifies audited operations
type AuditAction string

const (
	// AuditActionCrossTenantAccess records a consultant operating under a
	// foreign tenant's context.
	AuditActionCrossTenantAccess AuditAction = "cross_tenant_access"
	// AuditActionElevatedAccess records use of the isolation-bypassing
	// system repository. Always carries a justification.
	AuditActionElevatedAccess AuditAction = "elevated_access"
	// AuditActionKeyRotation records rotation state transitions.
	AuditActionKeyRotation AuditAction = "key_rotation"
)

// AuditRecord is an append-only trail entry for privileged operations.
// TenantID is the tenant the actor belongs to; TargetTenantID the tenant
// acted upon (equal for rotation events).
type AuditRecord struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID   `gorm:"type:uuid;not null;index:idx_audit_tenant"`
	TargetTenantID uuid.UUID   `gorm:"type:uuid;not null;index:idx_audit_target"`
	ActorUserID    uuid.UUID   `gorm:"type:uuid"`
	Action         AuditAction `gorm:"type:varchar(40);not null;index"`
	Detail         string      `gorm:"type:text"`
	Justification  string      `gorm:"type:text"`
	CreatedAt      time.Time   `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditRecord) TableName() string {
	return "audit_records"
}

// NewAuditRecord creates an audit trail entry
func NewAuditRecord(tenantID, targetTenantID, actorUserID uuid.UUID, action AuditAction, detail string) (*AuditRecord, error) {
	if tenantID == uuid.Nil || targetTenantID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	return &AuditRecord{
		ID:             uuid.New(),
		TenantID:       tenantID,
		TargetTenantID: targetTenantID,
		ActorUserID:    actorUserID,
		Action:         action,
		Detail:         detail,
		CreatedAt:      time.Now(),
	}, nil
}

// WithJustification attaches the operator-supplied justification required
// for elevated access.
func (r *AuditRecord) WithJustification(justification string) *AuditRecord {
	r.Justification = justification
	return r
}
