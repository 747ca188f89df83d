package security

import (
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
)

// RotationStatus represents the status of a key rotation run
type RotationStatus string

const (
	RotationStatusInProgress RotationStatus = "IN_PROGRESS"
	RotationStatusCompleted  RotationStatus = "COMPLETED"
	RotationStatusFailed     RotationStatus = "FAILED"
)

// RotationProgress records a tenant's key rotation run. Each completed batch
// persists the cursor, so a crashed rotation resumes from the last committed
// batch instead of starting over. Rows are retained after completion for
// audit.
type RotationProgress struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID      `gorm:"type:uuid;not null;index:idx_rotation_tenant"`
	OldKeyID     uuid.UUID      `gorm:"type:uuid;not null"`
	NewKeyID     uuid.UUID      `gorm:"type:uuid;not null"`
	TableName_   string         `gorm:"column:table_name;type:varchar(100);not null"`
	Cursor       uuid.UUID      `gorm:"type:uuid"` // last migrated row id, ascending walk
	RowsMigrated int64          `gorm:"not null;default:0"`
	Status       RotationStatus `gorm:"type:varchar(20);not null"`
	LastError    string         `gorm:"type:text"`
	StartedAt    time.Time      `gorm:"not null"`
	FinishedAt   *time.Time
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RotationProgress) TableName() string {
	return "rotation_progress"
}

// NewRotationProgress starts tracking a rotation of one table for a tenant
func NewRotationProgress(tenantID, oldKeyID, newKeyID uuid.UUID, table string) (*RotationProgress, error) {
	if tenantID == uuid.Nil || oldKeyID == uuid.Nil || newKeyID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if table == "" {
		return nil, shared.NewDomainError("INVALID_TABLE", "Rotation progress requires a table name")
	}
	now := time.Now()
	return &RotationProgress{
		ID:         uuid.New(),
		TenantID:   tenantID,
		OldKeyID:   oldKeyID,
		NewKeyID:   newKeyID,
		TableName_: table,
		Status:     RotationStatusInProgress,
		StartedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// AdvanceCursor records a committed batch
func (p *RotationProgress) AdvanceCursor(lastRowID uuid.UUID, rows int64) error {
	if p.Status != RotationStatusInProgress {
		return shared.ErrInvalidState
	}
	p.Cursor = lastRowID
	p.RowsMigrated += rows
	p.UpdatedAt = time.Now()
	return nil
}

// Complete marks the table fully migrated
func (p *RotationProgress) Complete() error {
	if p.Status != RotationStatusInProgress {
		return shared.ErrInvalidState
	}
	now := time.Now()
	p.Status = RotationStatusCompleted
	p.FinishedAt = &now
	p.UpdatedAt = now
	return nil
}

// Fail records an unrecoverable failure. The rotation stays resumable: keys
// on both sides remain decryptable and the cursor keeps its last committed
// position.
func (p *RotationProgress) Fail(cause error) error {
	if p.Status != RotationStatusInProgress {
		return shared.ErrInvalidState
	}
	now := time.Now()
	p.Status = RotationStatusFailed
	p.LastError = cause.Error()
	p.FinishedAt = &now
	p.UpdatedAt = now
	return nil
}

// Resume reopens a failed run from its last committed cursor
func (p *RotationProgress) Resume() error {
	if p.Status == RotationStatusInProgress {
		return nil
	}
	if p.Status != RotationStatusFailed {
		return shared.ErrInvalidState
	}
	p.Status = RotationStatusInProgress
	p.LastError = ""
	p.FinishedAt = nil
	p.UpdatedAt = time.Now()
	return nil
}

// Resumable reports whether a run can be picked up again
func (p *RotationProgress) Resumable() bool {
	return p.Status == RotationStatusInProgress || p.Status == RotationStatusFailed
}
