// Package legal holds the practice-management bounded context: matters and
// the clients they are opened for. Everything here is tenant-scoped; tenant
// stamping and isolation are enforced by the repository layer and by
// database row-level security, never by callers.
package legal

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// EntityMatter is the logical entity name used in cache keys and change events.
const EntityMatter = "matter"

// MatterStatus represents the lifecycle status of a matter
type MatterStatus string

const (
	MatterStatusOpen     MatterStatus = "open"
	MatterStatusClosed   MatterStatus = "closed"
	MatterStatusArchived MatterStatus = "archived"
)

// Matter represents a legal matter (a case or engagement) handled for a
// client. It is the aggregate root for matter operations.
type Matter struct {
	shared.TenantAggregateRoot
	// Uniqueness of (tenant_id, code) is declared in the migrations; the
	// tenant column lives on the embedded aggregate root and composite
	// index tags cannot reach across the embedding.
	Code         string         `gorm:"type:varchar(50);not null;index"`
	Title        string         `gorm:"type:varchar(300);not null"`
	Description  string         `gorm:"type:text"`
	Status       MatterStatus   `gorm:"type:varchar(20);not null;default:'open'"`
	ClientID     uuid.UUID      `gorm:"type:uuid;not null;index"`
	PracticeArea string         `gorm:"type:varchar(100);index"`
	OpenedAt     time.Time      `gorm:"not null"`
	ClosedAt     *time.Time     `gorm:""`
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for GORM
func (Matter) TableName() string {
	return "matters"
}

// NewMatter creates a new open matter for a client
func NewMatter(tenantID, clientID uuid.UUID, code, title string) (*Matter, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, shared.NewDomainError("INVALID_MATTER_CODE", "Matter code cannot be empty")
	}
	if strings.TrimSpace(title) == "" {
		return nil, shared.NewDomainError("INVALID_MATTER_TITLE", "Matter title cannot be empty")
	}
	if clientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT_ID", "Matter requires a client")
	}

	matter := &Matter{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Code:                code,
		Title:               title,
		Status:              MatterStatusOpen,
		ClientID:            clientID,
		OpenedAt:            time.Now(),
	}
	matter.AddDomainEvent(NewMatterOpenedEvent(matter))
	return matter, nil
}

// Rename updates the matter title
func (m *Matter) Rename(title string) error {
	if strings.TrimSpace(title) == "" {
		return shared.NewDomainError("INVALID_MATTER_TITLE", "Matter title cannot be empty")
	}
	m.Title = title
	m.UpdatedAt = time.Now()
	return nil
}

// Close closes an open matter
func (m *Matter) Close() error {
	if m.Status != MatterStatusOpen {
		return shared.ErrInvalidState
	}
	now := time.Now()
	m.Status = MatterStatusClosed
	m.ClosedAt = &now
	m.UpdatedAt = now
	m.AddDomainEvent(NewMatterClosedEvent(m))
	return nil
}

// Archive archives a closed matter
func (m *Matter) Archive() error {
	if m.Status != MatterStatusClosed {
		return shared.ErrInvalidState
	}
	m.Status = MatterStatusArchived
	m.UpdatedAt = time.Now()
	return nil
}

// IsOpen reports whether the matter is still being worked
func (m *Matter) IsOpen() bool {
	return m.Status == MatterStatusOpen
}
