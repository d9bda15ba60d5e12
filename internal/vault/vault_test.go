// SPDX-License-Identifier: MIT

package vault

import (
	"crypto/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	v, err := New(key, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)
	for _, plaintext := range []string{"a", "sk-live-1234567890", "über-ключ-秘密", "   spaces   "} {
		ct, err := v.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ct)
		assert.Equal(t, plaintext, v.Decrypt(ct))
	}
}

func TestEncryptEmptyString(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ct)
	assert.Empty(t, v.Decrypt(""))
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t)
	a, err := v.Encrypt("same input")
	require.NoError(t, err)
	b, err := v.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per call")
}

func TestDecryptGarbageReturnsEmpty(t *testing.T) {
	v := newTestVault(t)
	for _, garbage := range []string{"not base64 !!!", "YWJj", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
		assert.Empty(t, v.Decrypt(garbage))
	}
}

func TestDecryptForeignCiphertextReturnsEmpty(t *testing.T) {
	a := newTestVault(t)
	b := newTestVault(t)
	ct, err := a.Encrypt("secret")
	require.NoError(t, err)
	assert.Empty(t, b.Decrypt(ct), "ciphertext from another key must not open")
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, err := New(make([]byte, 16), zerolog.Nop())
	assert.Error(t, err)
}

func TestNewThrowaway(t *testing.T) {
	v, err := NewThrowaway(zerolog.Nop())
	require.NoError(t, err)
	ct, err := v.Encrypt("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v.Decrypt(ct))
}
