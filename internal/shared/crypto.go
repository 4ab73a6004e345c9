package shared

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Sealer encrypts refresh credentials at rest with AES-256-GCM.
//
// Sealed values are nonce || ciphertext; the owner ID is bound as additional data
// so a credential row copied to another owner fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a [Sealer] from a base64 encoded 32 byte key.
func NewSealer(encodedKey string) (*Sealer, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("%w: encryption key is not set (security.encryption_key or %s)", ErrMissingConfig, EncryptionKeyEnv)
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid base64: %v", ErrInvalidConfig, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrInvalidConfig, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// GenerateKey returns a new random key encoded for [NewSealer].
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal encrypts plaintext for the given owner.
func (s *Sealer) Seal(ownerID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(ownerID)), nil
}

// Open decrypts a value produced by [Sealer.Seal] for the same owner.
func (s *Sealer) Open(ownerID string, sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("%w: sealed value too short", ErrInvalidCredentials)
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], []byte(ownerID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return plaintext, nil
}
