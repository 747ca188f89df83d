package legal

import (
	"github.com/lexcore/backend/internal/domain/shared"
)

// Aggregate type constants
const (
	AggregateTypeMatter = "Matter"
	AggregateTypeClient = "Client"
)

// Event type constants
const (
	EventTypeMatterOpened  = "MatterOpened"
	EventTypeMatterClosed  = "MatterClosed"
	EventTypeClientCreated = "ClientCreated"
)

// MatterOpenedEvent is published when a new matter is opened
type MatterOpenedEvent struct {
	shared.BaseDomainEvent
	Code         string `json:"code"`
	Title        string `json:"title"`
	PracticeArea string `json:"practice_area,omitempty"`
}

// NewMatterOpenedEvent creates a new MatterOpenedEvent
func NewMatterOpenedEvent(m *Matter) *MatterOpenedEvent {
	return &MatterOpenedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMatterOpened, AggregateTypeMatter, m.ID, m.TenantID),
		Code:            m.Code,
		Title:           m.Title,
		PracticeArea:    m.PracticeArea,
	}
}

// MatterClosedEvent is published when a matter is closed
type MatterClosedEvent struct {
	shared.BaseDomainEvent
	Code string `json:"code"`
}

// NewMatterClosedEvent creates a new MatterClosedEvent
func NewMatterClosedEvent(m *Matter) *MatterClosedEvent {
	return &MatterClosedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMatterClosed, AggregateTypeMatter, m.ID, m.TenantID),
		Code:            m.Code,
	}
}

// ClientCreatedEvent is published when a new client is created
type ClientCreatedEvent struct {
	shared.BaseDomainEvent
	Name string `json:"name"`
}

// NewClientCreatedEvent creates a new ClientCreatedEvent
func NewClientCreatedEvent(c *Client) *ClientCreatedEvent {
	return &ClientCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeClientCreated, AggregateTypeClient, c.ID, c.TenantID),
		Name:            c.Name,
	}
}
