// Command server runs the conversation backend HTTP API.
//
// It loads configuration from the environment (optionally via .env), opens
// the SQLite datastore, connects to the optional Redis cache, wires the AI
// backend client, and serves the Gin router with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/casemate/go-conversation-backend/docs"
	"github.com/casemate/go-conversation-backend/internal/aiclient"
	"github.com/casemate/go-conversation-backend/internal/cache"
	"github.com/casemate/go-conversation-backend/internal/config"
	httpapi "github.com/casemate/go-conversation-backend/internal/http"
	"github.com/casemate/go-conversation-backend/internal/observability"
	"github.com/casemate/go-conversation-backend/internal/repo"
	"github.com/casemate/go-conversation-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title        Conversation Backend API
// @version      1.0
// @description  REST API mediating clients, a relational datastore, and a remote AI backend:
// @description  conversations with NORMAL/AGENTIC modes, document uploads, public share links,
// @description  message feedback, and language utilities.
// @BasePath     /api/v1
//
// @securityDefinitions.apikey UserHeader
// @in   header
// @name X-User-ID
func main() {
	// Best effort; real deployments set env directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless enabled).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Datastore.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("database tracing not enabled")
		}
	}

	// Optional Redis-backed cache; the app degrades gracefully without it.
	var responseCache *cache.ResponseCache
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, caching disabled")
			responseCache = cache.New(nil, cfg.Redis.AIResponseTTL, cfg.Redis.UserDataTTL)
		} else {
			defer client.Close()
			responseCache = cache.New(client, cfg.Redis.AIResponseTTL, cfg.Redis.UserDataTTL)
			log.Info().Str("addr", cfg.Redis.Addr).Msg("redis cache connected")
		}
	} else {
		responseCache = cache.New(nil, cfg.Redis.AIResponseTTL, cfg.Redis.UserDataTTL)
	}

	// Upstream AI backend client.
	ai := aiclient.New(cfg.AI.BaseURL, cfg.AI.Timeout)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, ai, responseCache, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}
