package event

import (
	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/shared"
)

// RegisterAllEvents registers all domain event types with the serializer.
// The OutboxProcessor needs every published type here to deserialize
// entries from the outbox table.
func RegisterAllEvents(serializer *EventSerializer) {
	// Repository change notifications, consumed by cache invalidation
	serializer.Register(shared.ChangeEventType, &shared.ChangeEvent{})

	// Legal domain events
	serializer.Register(legal.EventTypeMatterOpened, &legal.MatterOpenedEvent{})
	serializer.Register(legal.EventTypeMatterClosed, &legal.MatterClosedEvent{})
	serializer.Register(legal.EventTypeClientCreated, &legal.ClientCreatedEvent{})
}
