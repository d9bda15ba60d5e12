// SPDX-License-Identifier: MIT

// Package config loads process configuration from the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Settings holds every operator-tunable knob, loaded once at startup.
type Settings struct {
	// HTTP server
	ListenAddr    string
	TrustedProxies []string

	// Storage
	SQLitePath string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Secret vault: base64-encoded 32-byte key. Empty means a
	// process-lifetime throwaway key (degraded mode).
	APIKeyEncryptionKey string

	// Chat policy
	ChatAllowSelfMessages bool

	// Delivery platform (Bolt) integration; all three must be set for
	// the client to be wired.
	BoltAPIURL       string
	BoltIntegratorID string
	BoltSecretKey    string

	// Outbound mail
	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	// Observability
	LogLevel string

	// DevMode relaxes fatal validation (e.g. missing JWT secret).
	DevMode bool
}

// Load reads Settings from the environment, applying defaults.
func Load() Settings {
	return Settings{
		ListenAddr:     ParseString("LISTEN_ADDR", ":8000"),
		TrustedProxies: ParseStringSlice("TRUSTED_PROXIES", nil),

		SQLitePath: ParseString("SQLITE_PATH", "echo.db"),

		RedisAddr:     ParseString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: ParseString("REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("REDIS_DB", 0),

		JWTSecret:       ParseString("JWT_SECRET_KEY", ""),
		AccessTokenTTL:  ParseDuration("JWT_ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL: ParseDuration("JWT_REFRESH_TOKEN_TTL", 7*24*time.Hour),

		APIKeyEncryptionKey: ParseString("API_KEY_ENCRYPTION_KEY", ""),

		ChatAllowSelfMessages: ParseBool("CHAT_ALLOW_SELF_MESSAGES", false),

		BoltAPIURL:       ParseString("BOLT_FOOD_API_URL", ""),
		BoltIntegratorID: ParseString("BOLT_FOOD_INTEGRATOR_ID", ""),
		BoltSecretKey:    ParseString("BOLT_FOOD_SECRET_KEY", ""),

		SMTPServer:   ParseString("SMTP_SERVER", ""),
		SMTPPort:     ParseInt("SMTP_PORT", 587),
		SMTPUsername: ParseString("SMTP_USERNAME", ""),
		SMTPPassword: ParseString("SMTP_PASSWORD", ""),
		EmailFrom:    ParseString("EMAIL_FROM", ""),

		LogLevel: ParseString("LOG_LEVEL", "info"),
		DevMode:  ParseBool("DEV_MODE", false),
	}
}

// Validate checks invariants that must hold before the server starts.
func (s Settings) Validate() error {
	if s.JWTSecret == "" && !s.DevMode {
		return errors.New("JWT_SECRET_KEY must be set (or run with DEV_MODE=true)")
	}
	if s.APIKeyEncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(s.APIKeyEncryptionKey)
		if err != nil {
			return fmt.Errorf("API_KEY_ENCRYPTION_KEY is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("API_KEY_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
	}
	return nil
}

// EncryptionKey returns the decoded vault key, or nil if unset.
// Validate must have passed before calling.
func (s Settings) EncryptionKey() []byte {
	if s.APIKeyEncryptionKey == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(s.APIKeyEncryptionKey)
	if err != nil {
		return nil
	}
	return key
}

// BoltConfigured reports whether the delivery-platform client can be wired.
func (s Settings) BoltConfigured() bool {
	return s.BoltAPIURL != "" && s.BoltIntegratorID != "" && s.BoltSecretKey != ""
}

// Redacted returns a loggable copy with secret material blanked.
func (s Settings) Redacted() Settings {
	out := s
	if out.JWTSecret != "" {
		out.JWTSecret = "[redacted]"
	}
	if out.APIKeyEncryptionKey != "" {
		out.APIKeyEncryptionKey = "[redacted]"
	}
	if out.BoltSecretKey != "" {
		out.BoltSecretKey = "[redacted]"
	}
	if out.RedisPassword != "" {
		out.RedisPassword = "[redacted]"
	}
	if out.SMTPPassword != "" {
		out.SMTPPassword = "[redacted]"
	}
	return out
}
