// Package kms wraps and unwraps per-tenant data encryption keys. The DEK
// that actually encrypts field data never touches the database; only its
// wrapped form does, and this package is the sole place the wrapping
// happens.
package kms

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// DEKSize is the size in bytes of the data encryption keys this package
// generates (AES-256).
const DEKSize = 32

var (
	// ErrUnwrapFailed means the wrapped key material could not be decrypted.
	// Either the material is corrupt or the wrapping key is gone.
	ErrUnwrapFailed = errors.New("kms: failed to unwrap data key")

	// ErrInvalidKeyMaterial means the wrapped payload is malformed
	ErrInvalidKeyMaterial = errors.New("kms: invalid wrapped key material")
)

// DataKey is a freshly generated data encryption key in both forms. The
// plaintext is for immediate use and must not be persisted; the wrapped form
// is what goes into the encryption_keys table.
type DataKey struct {
	Plaintext []byte
	Wrapped   []byte
}

// KeyManager generates and unwraps tenant data encryption keys. The tenant
// id binds the wrapping so one tenant's wrapped key cannot be unwrapped in
// another tenant's context.
type KeyManager interface {
	GenerateDataKey(ctx context.Context, tenantID uuid.UUID) (*DataKey, error)
	UnwrapDataKey(ctx context.Context, tenantID uuid.UUID, wrapped []byte) ([]byte, error)
}
