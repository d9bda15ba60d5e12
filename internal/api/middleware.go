// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/johnolamide/echo-mcp-server/internal/auth"
	xlog "github.com/johnolamide/echo-mcp-server/internal/log"
	"github.com/johnolamide/echo-mcp-server/internal/store"
)

type ctxKey string

const (
	userCtxKey   ctxKey = "api.user"
	claimsCtxKey ctxKey = "api.claims"
)

// userFrom returns the authenticated user stored by requireAuth.
func userFrom(ctx context.Context) *store.User {
	u, _ := ctx.Value(userCtxKey).(*store.User)
	return u
}

// claimsFrom returns the verified token claims stored by requireAuth.
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey).(*auth.Claims)
	return c
}

// requestID assigns a correlation ID to every request and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(xlog.ContextWithRequestID(r.Context(), id)))
	})
}

// statusWriter captures the response code for access logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades hijack the connection; wrapping the
		// writer would break the Hijacker assertion.
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger := xlog.WithContext(r.Context(), s.logger)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", s.clientIP(r)).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				writeInternal(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authRateLimit protects the credential endpoints: 20 requests per minute
// per IP.
func authRateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		20,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
		}),
	)
}

// requireAuth verifies the access token, checks revocation and loads the
// user into the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, claims, err := s.authenticate(r, false)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userCtxKey, user)
		ctx = context.WithValue(ctx, claimsCtxKey, claims)
		ctx = xlog.ContextWithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves a request to an active user via its access token.
func (s *Server) authenticate(r *http.Request, allowQueryToken bool) (*store.User, *auth.Claims, error) {
	token := auth.ExtractToken(r, allowQueryToken)
	if token == "" {
		return nil, nil, auth.ErrTokenMissing
	}
	claims, err := auth.Verify(token, []byte(s.cfg.JWTSecret), auth.TokenTypeAccess)
	if err != nil {
		return nil, nil, err
	}
	if s.bl.IsRevoked(r.Context(), claims.Jti) {
		return nil, nil, auth.ErrTokenRevoked
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		return nil, nil, errors.New("user not found")
	}
	if !user.IsActive {
		return nil, nil, errors.New("account is inactive")
	}
	return user, claims, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if user == nil || !user.IsAdmin {
			writeForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP determines the originating IP. Forwarding headers are only
// honoured when the peer is a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) remoteIsTrusted(remote string) bool {
	if len(s.cfg.TrustedProxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, cidr := range s.cfg.TrustedProxies {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
