package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proficienthub/mockexam-engine/internal/api"
	"github.com/proficienthub/mockexam-engine/internal/cache"
	"github.com/proficienthub/mockexam-engine/internal/cleanup"
	"github.com/proficienthub/mockexam-engine/internal/config"
	"github.com/proficienthub/mockexam-engine/internal/content"
	"github.com/proficienthub/mockexam-engine/internal/exam"
	"github.com/proficienthub/mockexam-engine/internal/examtypes"
	"github.com/proficienthub/mockexam-engine/internal/ledger"
	"github.com/proficienthub/mockexam-engine/internal/storage"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting mockexam-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	// Run database migrations
	slog.Info("running database migrations", "dir", cfg.Database.MigrationsDir)
	if err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize database repository
	repo, err := storage.NewPostgresRepository(initCtx, storage.PostgresConfig{
		DSN: cfg.Database.DSN,
	})
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected successfully")

	// Initialize Redis cache (optional)
	var c *cache.Cache
	if cfg.Redis.Enabled {
		c, err = cache.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("redis cache connected", "address", cfg.Redis.Address, "ttl", cfg.Redis.TTL)
	} else {
		slog.Info("redis cache disabled")
	}

	// Load exam type catalog with optional overrides
	registry := examtypes.NewRegistry()
	if err := registry.LoadFromDir(cfg.ExamTypes.Dir); err != nil {
		slog.Warn("failed to load exam type overrides", "dir", cfg.ExamTypes.Dir, "error", err)
	}
	slog.Info("exam types loaded", "types", registry.Valid())

	// Initialize credit ledger and exam orchestrator
	credits := ledger.New(repo)
	orchestrator := exam.New(repo, credits, registry, &content.StaticGenerator{}, nil)

	// Initialize plan expiry sweeper
	sweeper := cleanup.NewSweeper(repo, cfg.Cleanup.Interval)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start sweeper
	sweeper.Start(ctx)

	// Setup HTTP server
	server := api.NewServer(cfg.Server, orchestrator, registry, repo, c)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if c != nil {
		if err := c.Close(); err != nil {
			slog.Error("cache close error", "error", err)
		}
	}

	if err := repo.Close(); err != nil {
		slog.Error("repository close error", "error", err)
	}

	slog.Info("mockexam-engine stopped")
}
