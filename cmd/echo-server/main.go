// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/johnolamide/echo-mcp-server/internal/api"
	"github.com/johnolamide/echo-mcp-server/internal/bolt"
	"github.com/johnolamide/echo-mcp-server/internal/chat"
	"github.com/johnolamide/echo-mcp-server/internal/config"
	"github.com/johnolamide/echo-mcp-server/internal/email"
	xlog "github.com/johnolamide/echo-mcp-server/internal/log"
	"github.com/johnolamide/echo-mcp-server/internal/service"
	"github.com/johnolamide/echo-mcp-server/internal/store"
	"github.com/johnolamide/echo-mcp-server/internal/vault"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg := config.Load()

	xlog.Configure(xlog.Config{
		Level:   cfg.LogLevel,
		Service: "echo-server",
	})
	logger := xlog.WithComponent("main")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration validation failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("addr", cfg.ListenAddr).
		Msg("starting echo-server")

	// Storage
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("path", cfg.SQLitePath).
			Msg("failed to open database")
	}
	defer func() { _ = st.Close() }()

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal().
			Err(err).
			Str("event", "redis.unreachable").
			Str("addr", cfg.RedisAddr).
			Msg("failed to connect to redis")
	}
	cancel()

	// Secret vault. Without a persistent key, encrypted API keys do not
	// survive a restart.
	var v *vault.Vault
	if key := cfg.EncryptionKey(); key != nil {
		v, err = vault.New(key, xlog.WithComponent("vault"))
	} else {
		logger.Warn().
			Str("event", "vault.throwaway_key").
			Msg("API_KEY_ENCRYPTION_KEY not set, stored service keys will not survive restarts")
		v, err = vault.NewThrowaway(xlog.WithComponent("vault"))
	}
	if err != nil {
		logger.Fatal().Err(err).Str("event", "vault.init_failed").Msg("failed to initialise vault")
	}

	// Chat distribution
	bus := chat.NewRedisBus(rdb, xlog.WithComponent("bus"))
	defer func() { _ = bus.Close() }()
	registry := chat.NewRegistry(bus, xlog.WithComponent("registry"))
	chatHandler := chat.NewHandler(st, registry, cfg.ChatAllowSelfMessages, xlog.WithComponent("chat"))

	// Delivery platform, wired only when fully configured
	var boltClient bolt.Client
	if cfg.BoltConfigured() {
		boltClient, err = bolt.NewHTTPClient(cfg.BoltAPIURL, cfg.BoltIntegratorID, cfg.BoltSecretKey, xlog.Base())
		if err != nil {
			logger.Fatal().Err(err).Str("event", "bolt.init_failed").Msg("failed to initialise bolt client")
		}
		logger.Info().Str("event", "bolt.enabled").Msg("delivery platform integration enabled")
	}

	server := api.New(api.Deps{
		Config:   cfg,
		Store:    st,
		Redis:    rdb,
		Vault:    v,
		Executor: service.NewExecutor(v, xlog.WithComponent("executor")),
		Registry: registry,
		Chat:     chatHandler,
		Bolt:     boltClient,
		Email:    email.NewLogSender(xlog.Base()),
		Logger:   xlog.Base(),
	})
	httpServer := server.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("event", "http.listening").Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "shutdown.begin").Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "shutdown.error").Msg("server exited with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("goodbye")
}
