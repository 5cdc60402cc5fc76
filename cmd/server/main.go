package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manangulati17/ai-scribe-backend/internal/config"
	"github.com/manangulati17/ai-scribe-backend/internal/metrics"
	"github.com/manangulati17/ai-scribe-backend/internal/recognition"
	"github.com/manangulati17/ai-scribe-backend/internal/server"
	"github.com/manangulati17/ai-scribe-backend/internal/session"
	"github.com/manangulati17/ai-scribe-backend/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting ai-scribe-backend",
		slog.String("config", *configPath),
		slog.String("recognition_mode", cfg.Recognition.Mode),
		slog.String("recovery_driver", cfg.Recovery.Driver))

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	m := metrics.New()

	ledger, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	if err := os.MkdirAll(cfg.Audio.ArtifactDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	engine, err := initEngine(cfg.Recognition)
	if err != nil {
		return fmt.Errorf("failed to initialize recognition engine: %w", err)
	}
	defer engine.Close()

	recovery, err := initRecovery(ctx, cfg.Recovery)
	if err != nil {
		return fmt.Errorf("failed to initialize recovery store: %w", err)
	}
	if closer, ok := recovery.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	registry := session.NewRegistry(session.RegistryConfig{
		ArtifactDir: cfg.Audio.ArtifactDir,
		IdleTimeout: cfg.Session.GetIdleTimeout(),
	}, engine, recovery, ledger, m, logger)

	udpServer := server.NewUDPServer(cfg.Server.UDP, registry, m, logger)
	if err := udpServer.Start(); err != nil {
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	httpServer := server.NewHTTPServer(cfg.Server.HTTP, registry, ledger, engine, udpServer, m, logger, cfg.Audio.ArtifactDir)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErr:
		if err != nil {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Stop accepting new traffic first, then end live sessions so their
	// artifacts and ledger records are finalized.
	if err := udpServer.Stop(shutdownCtx); err != nil {
		logger.Error("UDP server shutdown failed", slog.String("error", err.Error()))
	}

	registry.Stop(shutdownCtx)

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete")
	return nil
}

// initLogger builds the process logger from configuration
func initLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var output *os.File
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler), nil
}

// initEngine selects the recognition engine variant
func initEngine(cfg config.RecognitionConfig) (recognition.Engine, error) {
	switch cfg.Mode {
	case "remote":
		return recognition.NewRemoteEngine(recognition.RemoteConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.GetTimeout(),
			MaxRetries:    cfg.MaxRetries,
			MaxConcurrent: cfg.MaxConcurrent,
			Language:      cfg.Language,
			Model:         cfg.Model,
			FlushSeconds:  cfg.FlushSeconds,
		})
	default:
		return recognition.NewMockEngine(), nil
	}
}

// initRecovery selects the recovery ledger driver
func initRecovery(ctx context.Context, cfg config.RecoveryConfig) (session.RecoveryStore, error) {
	switch cfg.Driver {
	case "redis":
		return session.NewRedisRecoveryStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.GetTTL())
	default:
		return session.NewMemoryRecoveryStore(), nil
	}
}
