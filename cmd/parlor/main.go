// Parlor coordination server — carries the room command protocol over
// WebSocket, drives AI story generation, and manages room lifecycles.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parlorgames/parlor/pkg/api"
	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/chapter"
	"github.com/parlorgames/parlor/pkg/cleanup"
	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/database"
	"github.com/parlorgames/parlor/pkg/engine"
	"github.com/parlorgames/parlor/pkg/feedback"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/memory"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
	"github.com/parlorgames/parlor/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// buildProvider constructs the configured LLM backend.
func buildProvider(ctx context.Context, cfg *config.ProviderConfig) (llm.Provider, error) {
	switch cfg.Name {
	case "genai":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("provider api key env %s is empty", cfg.APIKeyEnv)
		}
		return llm.NewGenAIProvider(ctx, apiKey, cfg.Model)
	case "fake":
		return llm.NewFakeProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting parlor", "version", version.Full(), "config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbPath := getEnv("PARLOR_DB_PATH", "./parlor.db")
	dbClient, err := database.NewClient(ctx, database.Config{Path: dbPath})
	if err != nil {
		slog.Error("Failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", dbPath)

	st := store.New(dbClient.DB())

	// 3. LLM provider, registry, availability cache, request queue
	provider, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		slog.Error("Failed to initialize LLM provider", "error", err)
		os.Exit(1)
	}
	registry := llm.NewRegistry(provider)
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("Error closing LLM provider", "error", err)
		}
	}()
	availability := llm.NewAvailabilityCache(registry, cfg.Provider.AvailabilityTTL.Std())

	requestQueue := queue.New(cfg.Queue, registry, availability)
	requestQueue.Start()
	defer requestQueue.Stop()
	slog.Info("Request queue started",
		"provider", provider.Name(), "workers", cfg.Queue.MaxConcurrent)

	// 4. Domain services
	memories := memory.NewManager(st, cfg.Memory)
	chapters := chapter.NewManager(st, memories, requestQueue, cfg.Chapter, cfg.Memory.SummaryMaxChars)
	evaluator := feedback.NewEvaluator(st, requestQueue)
	egress := bus.New()

	roomEngine := engine.New(st, egress, requestQueue, chapters, evaluator, memories, availability, cfg)
	defer roomEngine.Stop()

	// 5. Retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, st)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 6. HTTP server
	conns := api.NewConnectionManager(roomEngine, egress, st, cfg.Server.WriteTimeout.Std())
	httpServer := api.NewServer(roomEngine, conns, dbClient, availability, requestQueue, roomEngine, cfg.Server)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting connections first, then let
	// the deferred stops drain the engine, queue, and sweeper.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
