// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Blacklist tracks revoked token IDs in Redis. Entries expire with the
// token itself, so the set stays bounded.
type Blacklist struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewBlacklist creates a Blacklist on an existing Redis client.
func NewBlacklist(client *redis.Client, logger zerolog.Logger) *Blacklist {
	return &Blacklist{client: client, logger: logger}
}

func blacklistKey(jti string) string {
	return "blacklist:" + jti
}

// Revoke marks a token ID as revoked until its natural expiry.
func (b *Blacklist) Revoke(ctx context.Context, claims *Claims) error {
	ttl := time.Until(time.Unix(claims.Exp, 0))
	if ttl <= 0 {
		return nil // already expired, nothing to revoke
	}
	if err := b.client.Set(ctx, blacklistKey(claims.Jti), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token ID has been revoked. A Redis failure is
// logged and treated as not-revoked: auth availability wins over strictness
// for a cache that only shortens token lifetime.
func (b *Blacklist) IsRevoked(ctx context.Context, jti string) bool {
	n, err := b.client.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		b.logger.Warn().Err(err).Msg("blacklist lookup failed")
		return false
	}
	return n > 0
}
