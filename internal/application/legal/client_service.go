package legal

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/kms"
	"github.com/lexcore/backend/internal/infrastructure/telemetry"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

// ClientService implements client use cases. Contact details are encrypted
// under the tenant's active data key before they reach the repository and
// decrypted on the way out. Decrypted PII is never cached: client reads
// always hit the database, so ciphertext is the only form at rest anywhere.
type ClientService struct {
	clients legal.ClientRepository
	keys    security.KeyRepository
	keyMgr  kms.KeyManager
	logger  *zap.Logger
}

// NewClientService creates a client service
func NewClientService(clients legal.ClientRepository, keys security.KeyRepository, keyMgr kms.KeyManager, logger *zap.Logger) *ClientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientService{
		clients: clients,
		keys:    keys,
		keyMgr:  keyMgr,
		logger:  logger,
	}
}

// CreateClient creates a client, encrypting contact fields under the
// tenant's active key
func (s *ClientService) CreateClient(ctx context.Context, req CreateClientRequest) (*ClientView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "client", "create")
	defer span.End()

	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	client, err := legal.NewClient(tenantID, req.Name)
	if err != nil {
		return nil, err
	}
	client.Notes = req.Notes

	if req.Email != "" || req.Phone != "" {
		activeKey, err := s.keys.FindActive(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		cipher, err := s.cipherFor(ctx, tenantID, activeKey)
		if err != nil {
			return nil, err
		}

		emailCipher, err := cipher.EncryptString(req.Email)
		if err != nil {
			return nil, err
		}
		phoneCipher, err := cipher.EncryptString(req.Phone)
		if err != nil {
			return nil, err
		}
		if err := client.SetEncryptedContact(emailCipher, phoneCipher, activeKey.ID); err != nil {
			return nil, err
		}
	}

	if err := s.clients.Create(ctx, client); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrClientID, client.ID.String())
	return &ClientView{
		ID:    client.ID,
		Name:  client.Name,
		Email: req.Email,
		Phone: req.Phone,
		Notes: client.Notes,
	}, nil
}

// GetClient returns a client with contact fields decrypted. The row's own
// key reference is used, so reads keep working for rows an in-flight
// rotation has not migrated yet.
func (s *ClientService) GetClient(ctx context.Context, id uuid.UUID) (*ClientView, error) {
	tenantID, err := tenancy.CurrentTenant(ctx)
	if err != nil {
		return nil, err
	}

	client, err := s.clients.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ClientView{
		ID:    client.ID,
		Name:  client.Name,
		Notes: client.Notes,
	}
	if !client.HasEncryptedContact() {
		return view, nil
	}

	rowKey, err := s.keys.FindByID(ctx, client.KeyID)
	if err != nil {
		return nil, err
	}
	cipher, err := s.cipherFor(ctx, tenantID, rowKey)
	if err != nil {
		return nil, err
	}

	if view.Email, err = cipher.DecryptString(client.EmailCipher); err != nil {
		return nil, err
	}
	if view.Phone, err = cipher.DecryptString(client.PhoneCipher); err != nil {
		return nil, err
	}
	return view, nil
}

// ListClients returns a page of the tenant's clients without decrypting
// contact fields; listings carry names only.
func (s *ClientService) ListClients(ctx context.Context, filter shared.Filter) ([]ClientView, error) {
	clients, err := s.clients.FindMany(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]ClientView, len(clients))
	for i := range clients {
		views[i] = ClientView{
			ID:    clients[i].ID,
			Name:  clients[i].Name,
			Notes: clients[i].Notes,
		}
	}
	return views, nil
}

// DeleteClient soft-deletes a client
func (s *ClientService) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.clients.Delete(ctx, id)
}

func (s *ClientService) cipherFor(ctx context.Context, tenantID uuid.UUID, key *security.EncryptionKey) (*kms.FieldCipher, error) {
	if !key.IsDecryptable() {
		return nil, shared.NewDomainError("KEY_NOT_DECRYPTABLE", "Key is scheduled for deletion")
	}
	dek, err := s.keyMgr.UnwrapDataKey(ctx, tenantID, key.WrappedDEK)
	if err != nil {
		return nil, err
	}
	return kms.NewFieldCipher(dek)
}
