package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agentsight-io/agentsight/internal/config"
	"github.com/agentsight-io/agentsight/internal/server"
	"github.com/agentsight-io/agentsight/internal/service/alert"
	"github.com/agentsight-io/agentsight/internal/service/baseline"
	"github.com/agentsight-io/agentsight/internal/service/drift"
	"github.com/agentsight-io/agentsight/internal/service/ingest"
	"github.com/agentsight-io/agentsight/internal/service/profile"
	"github.com/agentsight-io/agentsight/internal/storage"
	"github.com/agentsight-io/agentsight/internal/telemetry"
	"github.com/agentsight-io/agentsight/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("AGENTSIGHT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	thresholds, err := config.LoadDriftThresholds(cfg.DriftConfigPath)
	if err != nil {
		return fmt.Errorf("load drift thresholds: %w", err)
	}

	slog.Info("agentsight starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.ReadDatabaseURL, cfg.PoolMaxConns, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if !cfg.SkipEmbeddedMigrations {
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	emitter := alert.NewEmitter(db, alert.Config{
		DatabaseEnabled:     cfg.AlertDatabaseEnabled,
		WebhookURL:          cfg.AlertWebhookURL,
		SlackWebhookURL:     cfg.SlackWebhookURL,
		PagerDutyRoutingKey: cfg.PagerDutyRoutingKey,
		WebhookTimeout:      cfg.WebhookTimeout,
	}, logger)

	ingestSvc := ingest.New(db, logger)
	profileBuilder := profile.NewBuilder(db, thresholds.MinSamples.Profile, logger)
	baselineMgr := baseline.NewManager(db, logger)
	driftEngine := drift.NewEngine(db, thresholds, emitter, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		IngestSvc:           ingestSvc,
		ProfileBuilder:      profileBuilder,
		BaselineMgr:         baselineMgr,
		DriftEngine:         driftEngine,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
