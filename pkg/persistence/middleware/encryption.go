package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// envelopePrefix marks an encrypted field value.
const envelopePrefix = "enc:v1:"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrMissingEnvelope is returned when a stored personal field is not encrypted.
var ErrMissingEnvelope = errors.New("field is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// ParseKey decodes a base64 AES-256 key.
func ParseKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

type encryptionMiddleware struct {
	ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts the personal fields
// of a record (name and handle) with AES-GCM before they reach the store.
// Codes, steps and statuses stay in clear so the store can enforce its invariants.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != KeySize {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{
			Store:  next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Put(ctx context.Context, rec *domain.Record) error {
	// Encrypt a copy so the caller keeps its plaintext view.
	sealed := rec.Clone()
	var err error
	if sealed.Name, err = m.seal(rec.Name); err != nil {
		return fmt.Errorf("failed to encrypt name: %w", err)
	}
	if sealed.Handle, err = m.seal(rec.Handle); err != nil {
		return fmt.Errorf("failed to encrypt handle: %w", err)
	}

	if err := m.Store.Put(ctx, sealed); err != nil {
		return err
	}
	rec.Version = sealed.Version
	rec.CreatedAt = sealed.CreatedAt
	rec.UpdatedAt = sealed.UpdatedAt
	return nil
}

func (m *encryptionMiddleware) Get(ctx context.Context, conversationID string) (*domain.Record, error) {
	rec, err := m.Store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if rec.Name, err = m.open(rec.Name); err != nil {
		return nil, fmt.Errorf("failed to decrypt name: %w", err)
	}
	if rec.Handle, err = m.open(rec.Handle); err != nil {
		return nil, fmt.Errorf("failed to decrypt handle: %w", err)
	}
	return rec, nil
}

func (m *encryptionMiddleware) seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	ciphertext, err := encrypt([]byte(value), m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	encoded, ok := strings.CutPrefix(value, envelopePrefix)
	if !ok {
		return "", ErrMissingEnvelope
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
