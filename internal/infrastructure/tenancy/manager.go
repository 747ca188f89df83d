package tenancy

import (
	"context"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// CrossTenantAuditor records consultant cross-tenant access for the audit
// trail. Implementations must not fail the guarded operation; errors are
// logged by the manager.
type CrossTenantAuditor interface {
	RecordCrossTenantAccess(ctx context.Context, actor Context, targetTenant uuid.UUID) error
}

// Manager performs audited tenant-context overrides. Plain context reads go
// through the package-level functions; Manager exists for the consultant
// path where every override must leave an audit record.
type Manager struct {
	auditor CrossTenantAuditor
	logger  *zap.Logger
}

// NewManager creates a Manager. auditor may be nil in tests, in which case
// overrides are still enforced but not recorded.
func NewManager(auditor CrossTenantAuditor, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{auditor: auditor, logger: logger}
}

// RunWithTenant runs fn with the active tenant temporarily switched to
// tenantID. The override is scoped to the derived context handed to fn; the
// caller's context keeps its original identity on every exit path, normal or
// not. The switch is denied with shared.ErrTenantAccessDenied unless the
// current identity can access tenantID.
//
// Overrides to a foreign tenant are recorded through the auditor before fn
// runs, so a denied or failed operation still leaves a trace.
func (m *Manager) RunWithTenant(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) error) error {
	tc, err := FromContext(ctx)
	if err != nil {
		return err
	}
	if !tc.CanAccess(tenantID) {
		m.logger.Warn("cross-tenant access denied",
			zap.String("tenant_id", tc.TenantID.String()),
			zap.String("target_tenant_id", tenantID.String()),
			zap.String("user_id", tc.UserID.String()),
		)
		return shared.ErrTenantAccessDenied
	}

	if tenantID != tc.TenantID {
		if m.auditor != nil {
			if auditErr := m.auditor.RecordCrossTenantAccess(ctx, tc, tenantID); auditErr != nil {
				m.logger.Error("failed to record cross-tenant access",
					zap.String("target_tenant_id", tenantID.String()),
					zap.Error(auditErr),
				)
			}
		}
	}

	override := tc
	override.TenantID = tenantID
	return fn(WithContext(ctx, override))
}

// ForEachAccessibleTenant runs fn once per tenant the current identity can
// access, each run under that tenant's context. Consultant reads spanning
// tenants always execute as N independent per-tenant operations, never as
// one query crossing isolation boundaries. The first error aborts the loop.
func (m *Manager) ForEachAccessibleTenant(ctx context.Context, fn func(ctx context.Context, tenantID uuid.UUID) error) error {
	tc, err := FromContext(ctx)
	if err != nil {
		return err
	}

	tenants := []uuid.UUID{tc.TenantID}
	if tc.Role == RoleConsultant {
		for _, id := range tc.AccessibleTenantIDs {
			if id != tc.TenantID {
				tenants = append(tenants, id)
			}
		}
	}

	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := tenantID
		if err := m.RunWithTenant(ctx, id, func(scoped context.Context) error {
			return fn(scoped, id)
		}); err != nil {
			return err
		}
	}
	return nil
}
