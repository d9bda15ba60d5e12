// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/johnolamide/echo-mcp-server/internal/auth"
	xlog "github.com/johnolamide/echo-mcp-server/internal/log"
	"github.com/johnolamide/echo-mcp-server/internal/store"
)

const verificationTokenTTL = 24 * time.Hour

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" {
		writeError(w, http.StatusUnprocessableEntity, "username is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid email address")
		return
	}
	if len(req.Password) < auth.MinPasswordLen {
		writeError(w, http.StatusUnprocessableEntity, "password must be at least 8 characters")
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetUserByUsername(ctx, req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already registered")
		return
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeInternal(w)
		return
	}
	user, err := s.store.CreateUser(ctx, &store.User{
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashed,
		IsActive:       true,
		IsVerified:     s.cfg.DevMode, // dev skips the mail round-trip
	})
	if err != nil {
		logger := xlog.WithContext(ctx, s.logger)
		logger.Error().Err(err).Msg("create user failed")
		writeInternal(w)
		return
	}

	if !user.IsVerified {
		token, err := auth.MintEmailVerification([]byte(s.cfg.JWTSecret), user.ID, user.Email, verificationTokenTTL)
		if err == nil {
			err = s.email.SendVerification(ctx, user.Email, token)
		}
		if err != nil {
			// Registration stands; the operator can re-trigger mail.
			logger := xlog.WithContext(ctx, s.logger)
			logger.Error().Err(err).Msg("verification mail failed")
		}
	}

	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := auth.Verify(token, []byte(s.cfg.JWTSecret), auth.TokenTypeEmailVerification)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid or expired verification token")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid or expired verification token")
		return
	}
	if err := s.store.SetUserVerified(r.Context(), userID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil || !auth.CheckPassword(user.HashedPassword, req.Password) {
		writeUnauthorized(w, "incorrect username or password")
		return
	}
	if !user.IsActive {
		writeUnauthorized(w, "account is inactive")
		return
	}

	resp, err := s.mintTokenPair(user.ID)
	if err != nil {
		writeInternal(w)
		return
	}
	logger := xlog.WithContext(r.Context(), s.logger)
	logger.Info().Int64("user_id", user.ID).Msg("user logged in")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) mintTokenPair(userID int64) (*tokenResponse, error) {
	access, _, err := auth.Mint([]byte(s.cfg.JWTSecret), userID, auth.TokenTypeAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := auth.Mint([]byte(s.cfg.JWTSecret), userID, auth.TokenTypeRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh exchanges a refresh token for a new pair. The old refresh
// token is revoked so each one is single-use.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	claims, err := auth.Verify(req.RefreshToken, []byte(s.cfg.JWTSecret), auth.TokenTypeRefresh)
	if err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	if s.bl.IsRevoked(r.Context(), claims.Jti) {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil || !user.IsActive {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	resp, err := s.mintTokenPair(user.ID)
	if err != nil {
		writeInternal(w)
		return
	}
	_ = s.bl.Revoke(r.Context(), claims)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if claims == nil {
		writeUnauthorized(w, "")
		return
	}
	if err := s.bl.Revoke(r.Context(), claims); err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}
