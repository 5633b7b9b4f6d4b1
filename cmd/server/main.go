package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropslot/internal/server/api"
	"dropslot/internal/server/auth"
	"dropslot/internal/server/config"
	"dropslot/internal/server/database"
	"dropslot/internal/server/ratelimit"
	"dropslot/internal/server/service"
	"dropslot/internal/server/storage"
	"dropslot/internal/server/sweeper"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg := config.Load()
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"max_files_per_share", cfg.MaxFilesPerShare,
		"max_duration", cfg.MaxDuration,
		"sweep_interval", cfg.SweepInterval,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize blob storage
	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "backend", cfg.StorageBackend)

	// Initialize core components
	repo := database.NewRepository(db)
	guard := auth.NewGuard(cfg.SessionSecret, cfg.MaxDuration)
	limiter := ratelimit.New(cfg.RateLimitWindow)
	svc := service.NewShareService(repo, store, guard, cfg)

	// Start the global expiration sweep
	sweep := sweeper.New(repo, store, cfg.SweepInterval)
	if err := sweep.Start(ctx); err != nil {
		slog.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, limiter, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweep schedule, waiting for an in-flight cycle
	sweep.Stop()

	slog.Info("server exited cleanly")
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		fs := storage.NewFileSystemStore(cfg.StoragePath)
		if err := fs.EnsureDir(); err != nil {
			return nil, err
		}
		return fs, nil
	}
}
