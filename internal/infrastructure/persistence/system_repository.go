package persistence

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/logger"
	"github.com/lexcore/backend/internal/infrastructure/persistence/rls"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SystemRepository is the single escape hatch around context-driven tenant
// scoping. Maintenance jobs and the key rotation worker use it to operate on
// an explicit tenant without a request identity.
//
// Every use requires a justification and leaves an audit record; the record
// is written before the operation runs so failed attempts are visible too.
// Nothing else in the codebase opens unscoped transactions.
type SystemRepository struct {
	db     *gorm.DB
	bridge *rls.Bridge
	audit  security.AuditRepository
	log    *zap.Logger
}

// NewSystemRepository creates a new SystemRepository
func NewSystemRepository(db *gorm.DB, bridge *rls.Bridge, audit security.AuditRepository, log *zap.Logger) *SystemRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &SystemRepository{db: db, bridge: bridge, audit: audit, log: log}
}

// RunForTenant executes fn inside a transaction pinned to an explicit tenant.
// The transaction carries the tenant's row-security setting, so fn still
// cannot read another tenant's rows; only the context-identity requirement
// is bypassed.
func (r *SystemRepository) RunForTenant(ctx context.Context, targetTenantID uuid.UUID, justification string, fn func(tx *gorm.DB) error) error {
	if targetTenantID == uuid.Nil {
		return shared.ErrInvalidInput
	}
	if strings.TrimSpace(justification) == "" {
		return shared.NewDomainError("JUSTIFICATION_REQUIRED", "Elevated access requires a justification")
	}

	if err := r.writeAudit(ctx, targetTenantID, justification); err != nil {
		return err
	}

	// The worker context it gets carries the target tenant, so scoped
	// repositories invoked inside fn's transaction keep working.
	ctx = tenancy.WithContext(ctx, tenancy.Context{
		TenantID: targetTenantID,
		Role:     tenancy.RoleSystem,
	})
	return r.bridge.TransactionForTenant(ctx, r.db, targetTenantID, fn)
}

// Context returns a system-role context pinned to a tenant, for elevated
// operations that go through the ordinary scoped repositories rather than a
// raw transaction. Audited the same way as RunForTenant.
func (r *SystemRepository) Context(ctx context.Context, targetTenantID uuid.UUID, justification string) (context.Context, error) {
	if targetTenantID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if strings.TrimSpace(justification) == "" {
		return nil, shared.NewDomainError("JUSTIFICATION_REQUIRED", "Elevated access requires a justification")
	}
	if err := r.writeAudit(ctx, targetTenantID, justification); err != nil {
		return nil, err
	}
	return tenancy.WithContext(ctx, tenancy.Context{
		TenantID: targetTenantID,
		Role:     tenancy.RoleSystem,
	}), nil
}

func (r *SystemRepository) writeAudit(ctx context.Context, targetTenantID uuid.UUID, justification string) error {
	actorTenant := targetTenantID
	var actorUser uuid.UUID
	if tc, err := tenancy.FromContext(ctx); err == nil {
		actorTenant = tc.TenantID
		actorUser = tc.UserID
	}

	record, err := security.NewAuditRecord(actorTenant, targetTenantID, actorUser,
		security.AuditActionElevatedAccess, "system repository access")
	if err != nil {
		return err
	}
	record.WithJustification(justification)

	if err := r.audit.Append(ctx, record); err != nil {
		return err
	}

	logger.WithLogger(ctx, r.log).Warn("elevated data access",
		zap.String("target_tenant_id", targetTenantID.String()),
		zap.String("justification", justification),
	)
	return nil
}
