// Package legal is the application layer for matters and clients: cached
// reads, tenant-stamped writes, field encryption for client PII and the
// consultant fan-out across tenants.
package legal

import (
	"time"

	"github.com/google/uuid"

	"github.com/lexcore/backend/internal/domain/legal"
)

// OpenMatterRequest opens a new matter for a client
type OpenMatterRequest struct {
	ClientID     uuid.UUID `json:"client_id"`
	Code         string    `json:"code"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	PracticeArea string    `json:"practice_area"`
}

// UpdateMatterRequest renames or re-describes a matter
type UpdateMatterRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// MatterView is the read model served from cache. It is what GetMatter and
// the list operations return; it carries no tenant column because the cache
// key already namespaces by tenant.
type MatterView struct {
	ID           uuid.UUID          `json:"id"`
	Code         string             `json:"code"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Status       legal.MatterStatus `json:"status"`
	ClientID     uuid.UUID          `json:"client_id"`
	PracticeArea string             `json:"practice_area,omitempty"`
	OpenedAt     time.Time          `json:"opened_at"`
	ClosedAt     *time.Time         `json:"closed_at,omitempty"`
}

// TenantMatters is one tenant's slice of a consultant's cross-tenant listing
type TenantMatters struct {
	TenantID uuid.UUID    `json:"tenant_id"`
	Matters  []MatterView `json:"matters"`
}

// CreateClientRequest creates a client; Email and Phone arrive in plaintext
// and are stored encrypted under the tenant's active key.
type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

// ClientView is the decrypted read model for a client
type ClientView struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Phone string    `json:"phone,omitempty"`
	Notes string    `json:"notes,omitempty"`
}

func matterToView(m *legal.Matter) MatterView {
	return MatterView{
		ID:           m.ID,
		Code:         m.Code,
		Title:        m.Title,
		Description:  m.Description,
		Status:       m.Status,
		ClientID:     m.ClientID,
		PracticeArea: m.PracticeArea,
		OpenedAt:     m.OpenedAt,
		ClosedAt:     m.ClosedAt,
	}
}

func mattersToViews(matters []legal.Matter) []MatterView {
	views := make([]MatterView, len(matters))
	for i := range matters {
		views[i] = matterToView(&matters[i])
	}
	return views
}
