// SPDX-License-Identifier: MIT

// Package auth covers password hashing, HS256 token handling and token
// revocation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token error classifications for strict HTTP 401/403 mapping.
var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrInvalidAlg     = errors.New("invalid algorithm: must be HS256")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrTokenRevoked   = errors.New("token revoked")
)

// Token types minted by this service.
const (
	TokenTypeAccess            = "access"
	TokenTypeRefresh           = "refresh"
	TokenTypeEmailVerification = "email_verification"
)

// Claims is the token payload contract.
type Claims struct {
	Sub   string `json:"sub"`            // user ID, decimal
	Type  string `json:"type"`           // access | refresh | email_verification
	Jti   string `json:"jti"`            // unique ID for revocation
	Iat   int64  `json:"iat"`
	Exp   int64  `json:"exp"`
	Email string `json:"email,omitempty"` // set on email_verification tokens
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Sub, 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	return id, nil
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Mint generates a strict HS256 JWT of the given type.
func Mint(secret []byte, userID int64, tokenType string, ttl time.Duration) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		Sub:  strconv.FormatInt(userID, 10),
		Type: tokenType,
		Jti:  uuid.NewString(),
		Iat:  now.Unix(),
		Exp:  now.Add(ttl).Unix(),
	}
	token, err := sign(secret, claims)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// MintEmailVerification generates a verification token bound to an address.
func MintEmailVerification(secret []byte, userID int64, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Sub:   strconv.FormatInt(userID, 10),
		Type:  TokenTypeEmailVerification,
		Jti:   uuid.NewString(),
		Iat:   now.Unix(),
		Exp:   now.Add(ttl).Unix(),
		Email: email,
	}
	return sign(secret, claims)
}

func sign(secret []byte, claims *Claims) (string, error) {
	hJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	cJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payload := base64.RawURLEncoding.EncodeToString(hJSON) + "." + base64.RawURLEncoding.EncodeToString(cJSON)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks signature, algorithm, expiry and token type.
func Verify(token string, secret []byte, expectedType string) (*Claims, error) {
	return verifyAt(token, secret, expectedType, time.Now().Unix())
}

// verifyAt allows a custom 'now' for deterministic expiry tests.
func verifyAt(token string, secret []byte, expectedType string, now int64) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	// Signature first, before any claim is trusted.
	payload := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	expectedSig := mac.Sum(nil)

	actualSig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidSig
	}
	if !hmac.Equal(expectedSig, actualSig) {
		return nil, ErrInvalidSig
	}

	hJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var h header
	if err := json.Unmarshal(hJSON, &h); err != nil {
		return nil, ErrTokenMalformed
	}
	// "alg=none" and every other algorithm is rejected here.
	if h.Alg != "HS256" {
		return nil, ErrInvalidAlg
	}

	cJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(cJSON, &claims); err != nil {
		return nil, ErrTokenMalformed
	}

	if claims.Exp == 0 || claims.Exp <= now {
		return nil, ErrTokenExpired
	}
	if claims.Type != expectedType {
		return nil, ErrWrongTokenType
	}
	return &claims, nil
}
