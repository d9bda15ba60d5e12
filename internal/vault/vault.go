// SPDX-License-Identifier: MIT

// Package vault encrypts third-party API keys at rest with AES-256-GCM.
// Plaintext leaves the vault only when the executor builds outbound
// request headers.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

const keyLen = 32

// Vault performs symmetric authenticated encryption of secrets.
type Vault struct {
	aead   cipher.AEAD
	logger zerolog.Logger
}

// New creates a Vault from a 32-byte key.
func New(key []byte, logger zerolog.Logger) (*Vault, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", keyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	return &Vault{aead: aead, logger: logger}, nil
}

// NewThrowaway creates a Vault with a random process-lifetime key. Secrets
// encrypted with it are unreadable after a restart; this is a degraded mode
// for development, announced loudly at startup.
func NewThrowaway(logger zerolog.Logger) (*Vault, error) {
	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("vault: generate throwaway key: %w", err)
	}
	logger.Warn().Msg("API_KEY_ENCRYPTION_KEY not set: using a throwaway key, encrypted secrets will not survive a restart")
	return New(key, logger)
}

// Encrypt seals plaintext and returns base64url(nonce || ciphertext).
// The empty string encrypts to the empty string.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Malformed or foreign input
// returns the empty string rather than an error: request paths must not
// crash on stale data, and callers treat "" as "no usable secret".
func (v *Vault) Decrypt(ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		v.logger.Error().Err(err).Msg("vault: ciphertext is not valid base64")
		return ""
	}
	if len(raw) < v.aead.NonceSize() {
		v.logger.Error().Err(errors.New("ciphertext shorter than nonce")).Msg("vault: decrypt failed")
		return ""
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		v.logger.Error().Err(err).Msg("vault: decrypt failed")
		return ""
	}
	return string(plaintext)
}
