package shared

import (
	"github.com/google/uuid"
)

// BaseAggregateRoot buffers domain events raised during a unit of work.
// The repository drains the buffer into the outbox inside the same
// transaction as the row mutation, then clears it.
type BaseAggregateRoot struct {
	BaseEntity
	Version int           `gorm:"not null;default:1"`
	events  []DomainEvent `gorm:"-"`
}

// AddDomainEvent queues an event for transactional publication
func (a *BaseAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.events = append(a.events, event)
}

// GetDomainEvents returns the queued, not yet persisted events
func (a *BaseAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.events
}

// ClearDomainEvents empties the queue once the events are in the outbox
func (a *BaseAggregateRoot) ClearDomainEvents() {
	a.events = nil
}

// TenantAggregateRoot is the base for all tenant-owned aggregates.
// TenantID is stamped exactly once by the repository layer from the active
// tenant context; it is never read from caller input and never updated.
type TenantAggregateRoot struct {
	BaseAggregateRoot
	TenantID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	CreatedBy *uuid.UUID `gorm:"type:uuid;index"`
}

// NewTenantAggregateRoot creates a tenant-scoped aggregate root
func NewTenantAggregateRoot(tenantID uuid.UUID) TenantAggregateRoot {
	return TenantAggregateRoot{
		BaseAggregateRoot: BaseAggregateRoot{BaseEntity: newBaseEntity(), Version: 1},
		TenantID:          tenantID,
	}
}

// GetTenantID returns the owning tenant
func (t *TenantAggregateRoot) GetTenantID() uuid.UUID {
	return t.TenantID
}

// StampTenant sets the owning tenant. Called exactly once, by the repository
// on create; any caller-supplied value is overwritten there.
func (t *TenantAggregateRoot) StampTenant(tenantID uuid.UUID) {
	t.TenantID = tenantID
}
