package security

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

// AccessAuditor records consultant cross-tenant overrides in the audit
// trail. It backs tenancy.Manager, which writes the record before the
// overridden operation runs.
type AccessAuditor struct {
	audit security.AuditRepository
}

// NewAccessAuditor creates an auditor over the audit repository
func NewAccessAuditor(audit security.AuditRepository) *AccessAuditor {
	return &AccessAuditor{audit: audit}
}

// RecordCrossTenantAccess implements tenancy.CrossTenantAuditor
func (a *AccessAuditor) RecordCrossTenantAccess(ctx context.Context, actor tenancy.Context, targetTenant uuid.UUID) error {
	record, err := security.NewAuditRecord(
		actor.TenantID,
		targetTenant,
		actor.UserID,
		security.AuditActionCrossTenantAccess,
		fmt.Sprintf("consultant context override by %s", actor.UserID),
	)
	if err != nil {
		return err
	}
	return a.audit.Append(ctx, record)
}

var _ tenancy.CrossTenantAuditor = (*AccessAuditor)(nil)
