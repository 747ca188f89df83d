package legal

import (
	"context"

	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/infrastructure/cache"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

// ConsultantSessionService handles consultant session teardown. When a
// consultant's session ends, every foreign tenant they had access to gets
// its cache namespace purged on this instance and on peers, so nothing a
// consultant viewed lingers after their grant is gone.
type ConsultantSessionService struct {
	coordinator *cache.Coordinator
	logger      *zap.Logger
}

// NewConsultantSessionService creates a session service
func NewConsultantSessionService(coordinator *cache.Coordinator, logger *zap.Logger) *ConsultantSessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsultantSessionService{coordinator: coordinator, logger: logger}
}

// EndSession purges cached data for every foreign tenant the session could
// access. The consultant's own tenant keeps its cache; other principals of
// that tenant still need it.
func (s *ConsultantSessionService) EndSession(ctx context.Context) error {
	tc, err := tenancy.FromContext(ctx)
	if err != nil {
		return err
	}
	if tc.Role != tenancy.RoleConsultant {
		return nil
	}

	for _, tenantID := range tc.AccessibleTenantIDs {
		if tenantID == tc.TenantID {
			continue
		}
		if err := s.coordinator.PurgeTenant(ctx, tenantID); err != nil {
			s.logger.Warn("failed to purge tenant cache at session end",
				zap.String("tenant_id", tenantID.String()), zap.Error(err))
		}
	}

	s.logger.Info("consultant session ended",
		zap.String("user_id", tc.UserID.String()),
		zap.Int("tenants_purged", len(tc.AccessibleTenantIDs)))
	return nil
}
