// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPracticeMetricsProvider implements PracticeMetricsProvider using GORM.
// It queries the matters and clients tables directly for aggregated metrics;
// queries run outside the request path, so the tenant predicate is explicit.
type GormPracticeMetricsProvider struct {
	db *gorm.DB
}

// NewGormPracticeMetricsProvider creates a new GormPracticeMetricsProvider.
func NewGormPracticeMetricsProvider(db *gorm.DB) *GormPracticeMetricsProvider {
	return &GormPracticeMetricsProvider{db: db}
}

// GetOpenMatterCounts returns the number of open matters per practice area.
func (p *GormPracticeMetricsProvider) GetOpenMatterCounts(ctx context.Context, tenantID uuid.UUID) (map[string]int64, error) {
	type result struct {
		PracticeArea string `gorm:"column:practice_area"`
		Count        int64  `gorm:"column:count"`
	}

	var results []result
	err := p.db.WithContext(ctx).
		Table("matters").
		Select("practice_area, COUNT(*) as count").
		Where("tenant_id = ? AND status = ? AND deleted_at IS NULL", tenantID, "open").
		Group("practice_area").
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(results))
	for _, r := range results {
		counts[r.PracticeArea] = r.Count
	}
	return counts, nil
}

// GetStaleKeyRowCount returns the number of client rows whose ciphertexts
// reference a key that is no longer the tenant's active key.
func (p *GormPracticeMetricsProvider) GetStaleKeyRowCount(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).
		Table("clients").
		Where("tenant_id = ? AND deleted_at IS NULL AND key_id <> ?", tenantID, uuid.Nil).
		Where("key_id NOT IN (SELECT id FROM encryption_keys WHERE tenant_id = ? AND status = ?)", tenantID, "ACTIVE").
		Count(&count).Error
	return count, err
}
