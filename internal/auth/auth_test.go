// SPDX-License-Identifier: MIT

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func TestMintVerifyRoundTrip(t *testing.T) {
	token, claims, err := Mint(testSecret, 42, TokenTypeAccess, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, claims.Jti)

	verified, err := Verify(token, testSecret, TokenTypeAccess)
	require.NoError(t, err)

	id, err := verified.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, claims.Jti, verified.Jti)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Mint(testSecret, 1, TokenTypeAccess, time.Minute)
	require.NoError(t, err)

	_, err = Verify(token, []byte("other-secret"), TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidSig)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	token, _, err := Mint(testSecret, 1, TokenTypeRefresh, time.Minute)
	require.NoError(t, err)

	_, err = Verify(token, testSecret, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, claims, err := Mint(testSecret, 1, TokenTypeAccess, time.Minute)
	require.NoError(t, err)

	_, err = verifyAt(token, testSecret, TokenTypeAccess, claims.Exp+1)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	_, err := Verify("", testSecret, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenMissing)

	_, err = Verify("only.two", testSecret, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, err = Verify("a.b.c", testSecret, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidSig)
}

func TestMintEmailVerification(t *testing.T) {
	token, err := MintEmailVerification(testSecret, 7, "user@example.com", 24*time.Hour)
	require.NoError(t, err)

	claims, err := Verify(token, testSecret, TokenTypeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestPasswordHashing(t *testing.T) {
	hashed, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery", hashed)

	assert.True(t, CheckPassword(hashed, "correct horse battery"))
	assert.False(t, CheckPassword(hashed, "wrong password"))

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := NewBlacklist(client, zerolog.Nop())
	ctx := context.Background()

	_, claims, err := Mint(testSecret, 1, TokenTypeAccess, time.Minute)
	require.NoError(t, err)

	assert.False(t, bl.IsRevoked(ctx, claims.Jti))
	require.NoError(t, bl.Revoke(ctx, claims))
	assert.True(t, bl.IsRevoked(ctx, claims.Jti))

	// Entry expires with the token.
	mr.FastForward(2 * time.Minute)
	assert.False(t, bl.IsRevoked(ctx, claims.Jti))
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bl := NewBlacklist(client, zerolog.Nop())

	claims := &Claims{Jti: "expired", Exp: time.Now().Add(-time.Hour).Unix()}
	require.NoError(t, bl.Revoke(context.Background(), claims))
	assert.False(t, bl.IsRevoked(context.Background(), "expired"))
}
