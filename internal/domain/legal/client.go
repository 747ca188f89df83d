package legal

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lexcore/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// EntityClient is the logical entity name used in cache keys and change events.
const EntityClient = "client"

// Client represents a client of the firm. Contact details are personally
// identifying and are stored encrypted under the tenant's active data
// encryption key; KeyID records which key the row's ciphertexts use so key
// rotation can find and migrate them.
type Client struct {
	shared.TenantAggregateRoot
	Name        string         `gorm:"type:varchar(200);not null;index"`
	EmailCipher []byte         `gorm:"type:bytea"`
	PhoneCipher []byte         `gorm:"type:bytea"`
	KeyID       uuid.UUID      `gorm:"type:uuid;index"`
	Notes       string         `gorm:"type:text"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// TableName returns the table name for GORM
func (Client) TableName() string {
	return "clients"
}

// NewClient creates a new client. Contact ciphertexts are attached separately
// by the application layer, which owns field encryption.
func NewClient(tenantID uuid.UUID, name string) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_CLIENT_NAME", "Client name cannot be empty")
	}
	client := &Client{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
	}
	client.AddDomainEvent(NewClientCreatedEvent(client))
	return client, nil
}

// SetEncryptedContact attaches encrypted contact fields together with the id
// of the key that produced them. Both ciphertexts of a row are always
// encrypted under the same key.
func (c *Client) SetEncryptedContact(emailCipher, phoneCipher []byte, keyID uuid.UUID) error {
	if keyID == uuid.Nil {
		return shared.NewDomainError("INVALID_KEY_ID", "Encrypted contact requires a key reference")
	}
	c.EmailCipher = emailCipher
	c.PhoneCipher = phoneCipher
	c.KeyID = keyID
	return nil
}

// HasEncryptedContact reports whether the client carries encrypted fields
func (c *Client) HasEncryptedContact() bool {
	return c.KeyID != uuid.Nil
}
