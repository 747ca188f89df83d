package legal

import (
	"context"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
)

// MatterRepository defines the interface for matter persistence. All reads
// and writes are scoped to the tenant carried by ctx.
type MatterRepository interface {
	shared.Repository[Matter]

	// FindByCode finds a matter by code within the active tenant
	FindByCode(ctx context.Context, code string) (*Matter, error)

	// FindByClient finds matters for a client within the active tenant
	FindByClient(ctx context.Context, clientID uuid.UUID, filter shared.Filter) ([]Matter, error)

	// FindByStatus finds matters by status within the active tenant
	FindByStatus(ctx context.Context, status MatterStatus, filter shared.Filter) ([]Matter, error)
}

// ClientRepository defines the interface for client persistence
type ClientRepository interface {
	shared.Repository[Client]

	// FindByKeyID returns a page of clients whose encrypted fields reference
	// the given encryption key, ordered by id. Key rotation uses it to walk
	// rows still on the old key; afterCursor bounds the page to ids greater
	// than the cursor.
	FindByKeyID(ctx context.Context, keyID uuid.UUID, afterCursor uuid.UUID, limit int) ([]Client, error)

	// CountByKeyID counts clients still referencing the given key
	CountByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error)
}
