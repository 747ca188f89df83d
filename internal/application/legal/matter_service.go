package legal

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/cache"
	"github.com/lexcore/backend/internal/infrastructure/telemetry"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

// MatterService implements matter use cases. Reads are served through the
// cache; writes go straight to the repository and rely on change events for
// invalidation, plus a local drop for read-your-writes within the instance.
type MatterService struct {
	matters legal.MatterRepository
	cache   *cache.Manager
	tenants *tenancy.Manager
	logger  *zap.Logger
}

// NewMatterService creates a matter service
func NewMatterService(matters legal.MatterRepository, cacheMgr *cache.Manager, tenants *tenancy.Manager, logger *zap.Logger) *MatterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatterService{
		matters: matters,
		cache:   cacheMgr,
		tenants: tenants,
		logger:  logger,
	}
}

// OpenMatter opens a new matter for a client
func (s *MatterService) OpenMatter(ctx context.Context, req OpenMatterRequest) (*MatterView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "matter", "open",
		telemetry.WithAttribute(telemetry.SpanAttrMatterCode, req.Code))
	defer span.End()

	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	matter, err := legal.NewMatter(tenantID, req.ClientID, req.Code, req.Title)
	if err != nil {
		return nil, err
	}
	matter.Description = req.Description
	matter.PracticeArea = req.PracticeArea

	if err := s.matters.Create(ctx, matter); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrMatterID, matter.ID.String())
	view := matterToView(matter)
	return &view, nil
}

// GetMatter returns a matter by id, cache-first
func (s *MatterService) GetMatter(ctx context.Context, id uuid.UUID) (*MatterView, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	key := s.cache.Keys().EntityKey(tenantID, legal.EntityMatter, id)
	view, err := cache.GetOrSetJSON(ctx, s.cache, key, s.cache.EntityTTL(), s.matterTags(tenantID),
		func(ctx context.Context) (MatterView, error) {
			matter, err := s.matters.FindByID(ctx, id)
			if err != nil {
				return MatterView{}, err
			}
			return matterToView(matter), nil
		})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// GetMatterByCode returns a matter by its tenant-unique code, cache-first
func (s *MatterService) GetMatterByCode(ctx context.Context, code string) (*MatterView, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	key := s.cache.Keys().QueryKey(tenantID, legal.EntityMatter, map[string]string{"code": code})
	view, err := cache.GetOrSetJSON(ctx, s.cache, key, s.cache.EntityTTL(), s.matterTags(tenantID),
		func(ctx context.Context) (MatterView, error) {
			matter, err := s.matters.FindByCode(ctx, code)
			if err != nil {
				return MatterView{}, err
			}
			return matterToView(matter), nil
		})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListMatters returns a filtered page of the tenant's matters, cache-first
func (s *MatterService) ListMatters(ctx context.Context, filter shared.Filter) (shared.Paginated[MatterView], error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return shared.Paginated[MatterView]{}, err
	}

	key := s.cache.Keys().QueryKey(tenantID, legal.EntityMatter, filterParams(filter))
	return cache.GetOrSetJSON(ctx, s.cache, key, s.cache.ListTTL(), s.matterTags(tenantID),
		func(ctx context.Context) (shared.Paginated[MatterView], error) {
			matters, err := s.matters.FindMany(ctx, filter)
			if err != nil {
				return shared.Paginated[MatterView]{}, err
			}
			total, err := s.matters.Count(ctx, filter)
			if err != nil {
				return shared.Paginated[MatterView]{}, err
			}
			return shared.NewPaginated(mattersToViews(matters), total, filter.Page, filter.PageSize), nil
		})
}

// ListMattersForClient returns a client's matters, cache-first
func (s *MatterService) ListMattersForClient(ctx context.Context, clientID uuid.UUID, filter shared.Filter) ([]MatterView, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	params := filterParams(filter)
	params["client_id"] = clientID.String()
	key := s.cache.Keys().QueryKey(tenantID, legal.EntityMatter, params)
	return cache.GetOrSetJSON(ctx, s.cache, key, s.cache.ListTTL(), s.matterTags(tenantID),
		func(ctx context.Context) ([]MatterView, error) {
			matters, err := s.matters.FindByClient(ctx, clientID, filter)
			if err != nil {
				return nil, err
			}
			return mattersToViews(matters), nil
		})
}

// RenameMatter updates a matter's title and description
func (s *MatterService) RenameMatter(ctx context.Context, id uuid.UUID, req UpdateMatterRequest) (*MatterView, error) {
	matter, err := s.matters.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := matter.Rename(req.Title); err != nil {
		return nil, err
	}
	matter.Description = req.Description

	if err := s.matters.Update(ctx, matter); err != nil {
		return nil, err
	}
	s.dropCached(ctx, matter.TenantID, id)

	view := matterToView(matter)
	return &view, nil
}

// CloseMatter closes an open matter
func (s *MatterService) CloseMatter(ctx context.Context, id uuid.UUID) (*MatterView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "matter", "close",
		telemetry.WithAttribute(telemetry.SpanAttrMatterID, id.String()))
	defer span.End()

	matter, err := s.matters.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := matter.Close(); err != nil {
		return nil, err
	}
	if err := s.matters.Update(ctx, matter); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.dropCached(ctx, matter.TenantID, id)

	view := matterToView(matter)
	return &view, nil
}

// ArchiveMatter archives a closed matter
func (s *MatterService) ArchiveMatter(ctx context.Context, id uuid.UUID) error {
	matter, err := s.matters.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := matter.Archive(); err != nil {
		return err
	}
	if err := s.matters.Update(ctx, matter); err != nil {
		return err
	}
	s.dropCached(ctx, matter.TenantID, id)
	return nil
}

// DeleteMatter soft-deletes a matter
func (s *MatterService) DeleteMatter(ctx context.Context, id uuid.UUID) error {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return err
	}
	if err := s.matters.Delete(ctx, id); err != nil {
		return err
	}
	s.dropCached(ctx, tenantID, id)
	return nil
}

// ListMattersAcrossTenants lists matters for every tenant the caller can
// access. Consultants get one entry per granted tenant, each fetched under
// that tenant's own context as an independent query; standard users get
// exactly their own tenant.
func (s *MatterService) ListMattersAcrossTenants(ctx context.Context, filter shared.Filter) ([]TenantMatters, error) {
	var results []TenantMatters
	err := s.tenants.ForEachAccessibleTenant(ctx, func(scoped context.Context, tenantID uuid.UUID) error {
		views, err := s.ListMatters(scoped, filter)
		if err != nil {
			return fmt.Errorf("failed to list matters for tenant %s: %w", tenantID, err)
		}
		results = append(results, TenantMatters{TenantID: tenantID, Matters: views.Items})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MatterService) matterTags(tenantID uuid.UUID) []string {
	return []string{s.cache.Keys().EntityTag(tenantID, legal.EntityMatter)}
}

// dropCached removes the entity key locally for read-your-writes; cluster
// peers converge through the change event.
func (s *MatterService) dropCached(ctx context.Context, tenantID, id uuid.UUID) {
	s.cache.Invalidate(ctx, s.cache.Keys().EntityKey(tenantID, legal.EntityMatter, id))
}

// filterParams flattens a filter into the deterministic map the cache key
// hash is built from
func filterParams(filter shared.Filter) map[string]string {
	params := map[string]string{
		"page":      fmt.Sprintf("%d", filter.Page),
		"page_size": fmt.Sprintf("%d", filter.PageSize),
	}
	if filter.OrderBy != "" {
		params["order_by"] = filter.OrderBy
	}
	if filter.OrderDir != "" {
		params["order_dir"] = filter.OrderDir
	}
	if filter.Search != "" {
		params["search"] = filter.Search
	}

	keys := make([]string, 0, len(filter.Filters))
	for k := range filter.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params["f:"+k] = fmt.Sprint(filter.Filters[k])
	}
	return params
}
