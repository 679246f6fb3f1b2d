package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bskyttrpg/gamebot/internal/config"
	"github.com/bskyttrpg/gamebot/internal/domain"
	"github.com/bskyttrpg/gamebot/internal/firehose"
	"github.com/bskyttrpg/gamebot/internal/httpserver"
	"github.com/bskyttrpg/gamebot/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.NewRepository(cfg.SQLiteLocation)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Events must never be written against an unknown schema.
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("database ready", "path", cfg.SQLiteLocation)

	classifier := domain.NewClassifier(cfg.ServiceDID, cfg.BotMention)
	ingester := domain.NewIngester(classifier, repo, logger)

	source, err := newSource(cfg, repo, logger)
	if err != nil {
		return fmt.Errorf("create event source: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Run the subscription in the background
	go func() {
		if err := source.Run(ctx, ingester.HandleEvent); err != nil && ctx.Err() == nil {
			logger.Error("event source exited with error", "error", err)
		}
	}()

	// Serve health and identity endpoints
	server := httpserver.NewServer(cfg, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("service started",
		"port", cfg.Port,
		"connector", cfg.Connector,
		"endpoint", cfg.SubscriptionEndpoint,
		"service_did", cfg.ServiceDID,
	)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

func newSource(cfg *config.Config, repo *sqlite.Repository, logger *slog.Logger) (domain.EventSource, error) {
	switch cfg.Connector {
	case config.ConnectorRelay:
		return firehose.NewRelay(cfg.SubscriptionEndpoint, cfg.SubscriptionReconnectDelay, repo, logger)
	default:
		return firehose.NewJetstream(cfg.SubscriptionEndpoint, cfg.SubscriptionReconnectDelay, logger)
	}
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
