package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/bootstrap"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

func main() {
	cfg, err := bootstrap.LoadConfig(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("procedure-worker", cfg.Environment)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, "procedure-worker", cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			observability.EnableLogExport("procedure-worker")
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	app, err := bootstrap.New(ctx, cfg, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer app.Close()

	coordinator, err := app.Pipeline()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize pipeline")
	}

	pool := services.NewTaskWorkerPool(app.Queue, coordinator, cfg.Pipeline.Workers)
	logger.Info().
		Int("workers", cfg.Pipeline.Workers).
		Str("queue", cfg.Pipeline.QueueName).
		Msg("pipeline worker started")

	pool.Run(ctx)
	logger.Info().Msg("pipeline worker stopped")
}
