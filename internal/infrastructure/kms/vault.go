package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

const defaultTransitKey = "lexcore-tenant-dek"

// VaultConfig holds connection settings for the Vault transit backend
type VaultConfig struct {
	Address    string
	Token      string
	TransitKey string
}

// VaultKeyManager wraps tenant data keys with Vault's transit secrets
// engine. It uses a single derived transit key; the tenant id is passed as
// the derivation context, so ciphertexts wrapped for one tenant fail to
// unwrap under any other.
type VaultKeyManager struct {
	client     *vault.Client
	transitKey string
	logger     *zap.Logger
}

// VaultKeyManagerOption is a functional option for the Vault key manager
type VaultKeyManagerOption func(*VaultKeyManager)

// WithVaultLogger sets the logger for the key manager
func WithVaultLogger(logger *zap.Logger) VaultKeyManagerOption {
	return func(m *VaultKeyManager) {
		m.logger = logger
	}
}

// NewVaultKeyManager creates a key manager against the configured Vault
func NewVaultKeyManager(cfg VaultConfig, opts ...VaultKeyManagerOption) (*VaultKeyManager, error) {
	vaultCfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vaultCfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	m := &VaultKeyManager{
		client:     client,
		transitKey: cfg.TransitKey,
		logger:     zap.NewNop(),
	}
	if m.transitKey == "" {
		m.transitKey = defaultTransitKey
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewVaultKeyManagerWithClient creates a key manager with an existing client
func NewVaultKeyManagerWithClient(client *vault.Client, transitKey string) *VaultKeyManager {
	if transitKey == "" {
		transitKey = defaultTransitKey
	}
	return &VaultKeyManager{client: client, transitKey: transitKey, logger: zap.NewNop()}
}

// GenerateDataKey asks Vault for a new data key. Vault returns both the
// plaintext and the ciphertext in one call, so the plaintext never needs a
// separate unwrap round trip here.
func (m *VaultKeyManager) GenerateDataKey(ctx context.Context, tenantID uuid.UUID) (*DataKey, error) {
	path := fmt.Sprintf("transit/datakey/plaintext/%s", m.transitKey)
	secret, err := m.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"context": m.derivationContext(tenantID),
		"bits":    DEKSize * 8,
	})
	if err != nil {
		return nil, fmt.Errorf("vault datakey generation failed: %w", err)
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault datakey response missing plaintext")
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault datakey response missing ciphertext")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault returned undecodable plaintext: %w", err)
	}

	m.logger.Debug("generated data key",
		zap.String("tenant_id", tenantID.String()),
		zap.String("transit_key", m.transitKey))

	return &DataKey{
		Plaintext: plaintext,
		Wrapped:   []byte(ciphertext),
	}, nil
}

// UnwrapDataKey decrypts wrapped key material back to the plaintext DEK
func (m *VaultKeyManager) UnwrapDataKey(ctx context.Context, tenantID uuid.UUID, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, ErrInvalidKeyMaterial
	}

	path := fmt.Sprintf("transit/decrypt/%s", m.transitKey)
	secret, err := m.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"context":    m.derivationContext(tenantID),
		"ciphertext": string(wrapped),
	})
	if err != nil {
		m.logger.Warn("vault unwrap failed",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, ErrUnwrapFailed
	}
	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable plaintext", ErrUnwrapFailed)
	}
	return plaintext, nil
}

func (m *VaultKeyManager) derivationContext(tenantID uuid.UUID) string {
	return base64.StdEncoding.EncodeToString([]byte(tenantID.String()))
}

var _ KeyManager = (*VaultKeyManager)(nil)
