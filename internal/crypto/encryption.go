// Package crypto implements per-user envelope encryption for event payloads
// at rest. Keys are derived deterministically from a master key and the
// owning user's ID, so no salt needs to be stored alongside ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const aadPrefix = "chronos-v1:"

var (
	ErrInvalidKey     = errors.New("encryption master key must be 32 bytes (64 hex chars)")
	ErrDecryption     = errors.New("decryption failed")
	ErrCiphertextSize = errors.New("ciphertext too short to contain an IV")
)

// Service derives per-user AES-256-GCM keys from a single master key via
// HKDF-SHA256 and uses them to seal and open event payloads.
type Service struct {
	masterKey []byte
}

// NewService builds a Service from a hex-encoded 32-byte master key.
func NewService(masterKeyHex string) (*Service, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return &Service{masterKey: key}, nil
}

// DeriveKey derives the per-user AES-256 key for userID. The salt is fixed
// (the zero value) because the master key and the per-user info string
// already make the derived key unique; this keeps derivation deterministic
// so callers never need to persist a salt.
func (s *Service) DeriveKey(userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.masterKey, nil, []byte(userID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext for userID, returning base64(iv || ciphertext || tag).
// The additional authenticated data binds the ciphertext to userID so a
// value decrypted under the wrong user's key fails even if the key bytes
// happened to collide.
func (s *Service) Encrypt(plaintext []byte, userID string) (string, error) {
	key, err := s.DeriveKey(userID)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(iv, iv, plaintext, aad(userID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for userID.
func (s *Service) Decrypt(encoded string, userID string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryption
	}

	key, err := s.DeriveKey(userID)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrCiphertextSize)
	}

	iv, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, iv, ciphertext, aad(userID))
	if err != nil {
		return nil, ErrDecryption
	}

	return plaintext, nil
}

func aad(userID string) []byte {
	return []byte(aadPrefix + userID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
