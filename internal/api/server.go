// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: auth, service execution, admin
// CRUD, chat REST plus the WebSocket endpoint, health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/johnolamide/echo-mcp-server/internal/auth"
	"github.com/johnolamide/echo-mcp-server/internal/bolt"
	"github.com/johnolamide/echo-mcp-server/internal/chat"
	"github.com/johnolamide/echo-mcp-server/internal/config"
	"github.com/johnolamide/echo-mcp-server/internal/email"
	"github.com/johnolamide/echo-mcp-server/internal/service"
	"github.com/johnolamide/echo-mcp-server/internal/store"
	"github.com/johnolamide/echo-mcp-server/internal/vault"
)

// Server bundles the dependencies behind the HTTP handlers.
type Server struct {
	cfg      config.Settings
	store    *store.Store
	redis    *redis.Client
	vault    *vault.Vault
	executor *service.Executor
	registry *chat.Registry
	chat     *chat.Handler
	bl       *auth.Blacklist
	bolt     bolt.Client // nil unless the platform is configured
	email    email.Sender
	logger   zerolog.Logger
}

// Deps carries everything New needs; all fields except Bolt are required.
type Deps struct {
	Config   config.Settings
	Store    *store.Store
	Redis    *redis.Client
	Vault    *vault.Vault
	Executor *service.Executor
	Registry *chat.Registry
	Chat     *chat.Handler
	Bolt     bolt.Client
	Email    email.Sender
	Logger   zerolog.Logger
}

func New(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		store:    d.Store,
		redis:    d.Redis,
		vault:    d.Vault,
		executor: d.Executor,
		registry: d.Registry,
		chat:     d.Chat,
		bl:       auth.NewBlacklist(d.Redis, d.Logger),
		bolt:     d.Bolt,
		email:    d.Email,
		logger:   d.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes builds the router with the full middleware stack applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)

	r.Route("/auth", func(r chi.Router) {
		r.Use(authRateLimit())
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/verify-email", s.handleVerifyEmail)
		r.With(s.requireAuth).Post("/logout", s.handleLogout)
		r.With(s.requireAuth).Get("/me", s.handleMe)
	})

	r.Route("/services", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListServices)
		r.Get("/{id}", s.handleGetService)
		r.Get("/{id}/schema", s.handleServiceSchema)
		r.Post("/{id}/execute", s.handleExecuteService)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAuth, s.requireAdmin)
		r.Get("/services", s.handleAdminListServices)
		r.Post("/services", s.handleAdminCreateService)
		r.Put("/services/{id}", s.handleAdminUpdateService)
		r.Delete("/services/{id}", s.handleAdminDeleteService)
		r.Get("/users", s.handleAdminListUsers)
		r.Put("/users/{id}/activate", s.handleAdminSetUserActive(true))
		r.Put("/users/{id}/deactivate", s.handleAdminSetUserActive(false))
	})

	r.Route("/chat", func(r chi.Router) {
		r.Get("/ws", s.handleChatWS) // authenticates itself, query token allowed
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/history/{userID}", s.handleChatHistory)
			r.Get("/conversations", s.handleChatConversations)
			r.Post("/send", s.handleChatSend)
			r.Put("/read/{senderID}", s.handleChatMarkRead)
			r.Get("/unread-count", s.handleChatUnreadCount)
			r.Get("/online-status", s.handleChatOnlineStatus)
		})
	})

	if s.bolt != nil {
		r.Route("/bolt", func(r chi.Router) {
			r.Use(s.requireAuth, s.requireAdmin)
			r.Post("/menu/push", s.handleBoltPushMenu)
			r.Get("/menu", s.handleBoltGetMenu)
			r.Put("/menu/availability", s.handleBoltUpdateAvailability)
			r.Post("/orders/{orderID}/accept", s.handleBoltAcceptOrder)
			r.Post("/orders/{orderID}/reject", s.handleBoltRejectOrder)
			r.Post("/orders/{orderID}/ready", s.handleBoltMarkOrderReady)
		})
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: the chat WebSocket holds connections open
		// indefinitely.
		IdleTimeout: 120 * time.Second,
	}
}
