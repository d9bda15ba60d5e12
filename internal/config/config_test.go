// SPDX-License-Identifier: MIT

package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()
	assert.Equal(t, ":8000", s.ListenAddr)
	assert.Equal(t, "localhost:6379", s.RedisAddr)
	assert.Equal(t, 30*time.Minute, s.AccessTokenTTL)
	assert.False(t, s.ChatAllowSelfMessages)
	assert.False(t, s.BoltConfigured())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9000")
	t.Setenv("JWT_ACCESS_TOKEN_TTL", "90")
	t.Setenv("CHAT_ALLOW_SELF_MESSAGES", "true")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")

	s := Load()
	assert.Equal(t, ":9000", s.ListenAddr)
	assert.Equal(t, 90*time.Second, s.AccessTokenTTL)
	assert.True(t, s.ChatAllowSelfMessages)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, s.TrustedProxies)
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	s := Settings{}
	require.Error(t, s.Validate())

	s.DevMode = true
	require.NoError(t, s.Validate())

	s = Settings{JWTSecret: "secret"}
	require.NoError(t, s.Validate())
}

func TestValidateEncryptionKey(t *testing.T) {
	s := Settings{JWTSecret: "secret", APIKeyEncryptionKey: "not-base64!!"}
	assert.Error(t, s.Validate())

	s.APIKeyEncryptionKey = base64.StdEncoding.EncodeToString(make([]byte, 16))
	assert.Error(t, s.Validate(), "16-byte key must be rejected")

	key := make([]byte, 32)
	s.APIKeyEncryptionKey = base64.StdEncoding.EncodeToString(key)
	require.NoError(t, s.Validate())
	assert.Equal(t, key, s.EncryptionKey())
}

func TestRedacted(t *testing.T) {
	s := Settings{
		JWTSecret:           "topsecret",
		APIKeyEncryptionKey: "keymaterial",
		BoltSecretKey:       "boltsecret",
		RedisPassword:       "redispass",
	}
	r := s.Redacted()
	assert.Equal(t, "[redacted]", r.JWTSecret)
	assert.Equal(t, "[redacted]", r.APIKeyEncryptionKey)
	assert.Equal(t, "[redacted]", r.BoltSecretKey)
	assert.Equal(t, "[redacted]", r.RedisPassword)
	// Original untouched.
	assert.Equal(t, "topsecret", s.JWTSecret)
}
