// Package security provides the passphrase-based key derivation and
// symmetric encryption used to seal data at rest outside the PQC
// key-pair path (internal/crypto/pqc) — principally the persistence
// layer's local master-key file.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// SnapshotEncryption derives AES-256 keys from a passphrase and wraps
// AES-256-GCM for sealing snapshot-adjacent secrets at rest.
type SnapshotEncryption struct {
	iterations int
	keyLength  int
}

// NewSnapshotEncryption returns an encryptor using PBKDF2-HMAC-SHA256
// with a conservative default iteration count.
func NewSnapshotEncryption() *SnapshotEncryption {
	return &SnapshotEncryption{
		iterations: 100000,
		keyLength:  32,
	}
}

// DeriveKey derives an AES-256 key from a passphrase and salt.
func (s *SnapshotEncryption) DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key(
		[]byte(passphrase),
		salt,
		s.iterations,
		s.keyLength,
		sha256.New,
	)
}

// EncryptMemory seals data under key with AES-256-GCM, prefixing the
// nonce to the returned ciphertext.
func (s *SnapshotEncryption) EncryptMemory(data []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, data, nil)
	return ciphertext, nil
}

// DecryptMemory reverses EncryptMemory.
func (s *SnapshotEncryption) DecryptMemory(encrypted []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// GenerateSalt returns a fresh random salt for key derivation.
func (s *SnapshotEncryption) GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// EncodeKey encodes a key to base64 for storage.
func (s *SnapshotEncryption) EncodeKey(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// DecodeKey decodes a base64-encoded key.
func (s *SnapshotEncryption) DecodeKey(encoded string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(encoded)
}
