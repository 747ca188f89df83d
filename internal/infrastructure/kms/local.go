package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// localWrapVersion prefixes wrapped material so the format can evolve
const localWrapVersion = byte(1)

// LocalKeyManager wraps data keys under a master key held in configuration.
// It exists for development and tests; production deployments use Vault.
// Each tenant gets its own wrapping key derived from the master via HKDF,
// preserving the tenant binding the Vault implementation provides.
type LocalKeyManager struct {
	master []byte
}

// NewLocalKeyManager creates a key manager from a 32-byte master key
func NewLocalKeyManager(master []byte) (*LocalKeyManager, error) {
	if len(master) != DEKSize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", DEKSize, len(master))
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &LocalKeyManager{master: key}, nil
}

// GenerateDataKey creates a random DEK and wraps it for the tenant
func (m *LocalKeyManager) GenerateDataKey(_ context.Context, tenantID uuid.UUID) (*DataKey, error) {
	plaintext := make([]byte, DEKSize)
	if _, err := rand.Read(plaintext); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	gcm, err := m.tenantCipher(tenantID)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	wrapped := make([]byte, 0, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	wrapped = append(wrapped, localWrapVersion)
	wrapped = append(wrapped, nonce...)
	wrapped = gcm.Seal(wrapped, nonce, plaintext, nil)

	return &DataKey{Plaintext: plaintext, Wrapped: wrapped}, nil
}

// UnwrapDataKey recovers the plaintext DEK from wrapped material
func (m *LocalKeyManager) UnwrapDataKey(_ context.Context, tenantID uuid.UUID, wrapped []byte) ([]byte, error) {
	gcm, err := m.tenantCipher(tenantID)
	if err != nil {
		return nil, err
	}

	if len(wrapped) < 1+gcm.NonceSize()+gcm.Overhead() {
		return nil, ErrInvalidKeyMaterial
	}
	if wrapped[0] != localWrapVersion {
		return nil, fmt.Errorf("%w: unknown wrap version %d", ErrInvalidKeyMaterial, wrapped[0])
	}

	nonce := wrapped[1 : 1+gcm.NonceSize()]
	ciphertext := wrapped[1+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return plaintext, nil
}

// tenantCipher derives the tenant's wrapping key and returns an AEAD over it
func (m *LocalKeyManager) tenantCipher(tenantID uuid.UUID) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, m.master, nil, []byte("lexcore-kek:"+tenantID.String()))
	kek := make([]byte, DEKSize)
	if _, err := io.ReadFull(kdf, kek); err != nil {
		return nil, fmt.Errorf("failed to derive wrapping key: %w", err)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var _ KeyManager = (*LocalKeyManager)(nil)
