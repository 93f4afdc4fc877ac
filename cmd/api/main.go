package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/ingest"
	rtadapter "github.com/zatekoja/procedurecopilot/backend/internal/adapters/realtime"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/handlers"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/middleware"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/routes"
	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/bootstrap"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/internal/realtime"
)

func main() {
	cfg, err := bootstrap.LoadConfig(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)
	logger := observability.GetLogger()

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			observability.EnableLogExport(cfg.OTEL.ServiceName)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Warn().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Msg("OpenTelemetry initialized")
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

	live, conversations, err := app.Live()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize live session engine")
	}

	if cfg.Ingest.Enabled {
		watcher := ingest.NewWatcher(cfg.Ingest.InboxDir, 0, func(ctx context.Context, path string) error {
			_, err := app.SessionSvc.IngestFile(ctx, path, cfg.Ingest.ProcedureType)
			return err
		})
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("inbox watcher stopped")
			}
		}()
		logger.Info().Str("dir", cfg.Ingest.InboxDir).Msg("inbox watcher started")
	}

	invalidation := services.NewCacheInvalidationService(app.Cache, app.Events, middleware.SessionCacheKeys)
	if err := invalidation.Start(); err != nil {
		logger.Warn().Err(err).Msg("failed to start cache invalidation service")
	} else {
		defer invalidation.Stop()
	}

	router := routes.NewRouter(routes.Handlers{
		Sessions:  handlers.NewSessionHandler(app.SessionSvc),
		Live:      handlers.NewLiveHandler(live, conversations),
		Realtime:  handlers.NewRealtimeHandler(rtadapter.NewTokenIssuer(&cfg.Realtime), live, rtadapter.NewSignaler(&cfg.Realtime), realtime.DefaultSessionConfig(), cfg.Realtime.ConnectTimeout),
		Downloads: handlers.NewDownloadHandler(app.Store, app.Store),
		Events:    handlers.NewSSEHandler(app.Events),
	}, app.Analyses, middleware.NewCacheMiddleware(app.Cache, nil, metrics), metrics)
	router.AllowedOrigins = cfg.Server.AllowedOrigins

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router.SetupRoutes(),
		ReadTimeout: 5 * time.Minute, // uploads
		// event streams and the realtime relay are long-lived
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error during server shutdown")
	}
	live.Shutdown(shutdownCtx)

	logger.Info().Msg("server stopped")
}
