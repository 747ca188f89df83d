package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrDecryptFailed means a field ciphertext could not be opened with the
// given key. The usual cause is decrypting with the wrong key version.
var ErrDecryptFailed = errors.New("kms: failed to decrypt field")

// FieldCipher encrypts and decrypts individual field values under a
// plaintext DEK. Ciphertexts are nonce-prefixed AES-256-GCM; each value gets
// a fresh nonce, so equal plaintexts never produce equal ciphertexts.
type FieldCipher struct {
	gcm cipher.AEAD
}

// NewFieldCipher creates a cipher over an unwrapped data key
func NewFieldCipher(dek []byte) (*FieldCipher, error) {
	if len(dek) != DEKSize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", DEKSize, len(dek))
	}
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt seals a field value. Empty plaintext produces nil so optional
// fields stay NULL in storage.
func (c *FieldCipher) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a field ciphertext. Nil input round-trips to nil.
func (c *FieldCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(ciphertext) < c.gcm.NonceSize()+c.gcm.Overhead() {
		return nil, ErrDecryptFailed
	}
	nonce := ciphertext[:c.gcm.NonceSize()]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext[c.gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string fields
func (c *FieldCipher) EncryptString(plaintext string) ([]byte, error) {
	return c.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt for string fields
func (c *FieldCipher) DecryptString(ciphertext []byte) (string, error) {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
