package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/events"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/handlers"
	"github.com/zatekoja/procedurecopilot/backend/internal/api/routes"
	"github.com/zatekoja/procedurecopilot/backend/internal/bootstrap"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// The SSE server fans session events out to browsers without touching the
// database, so it can scale separately from the API.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("procedure-sse", cfg.Environment)
	logger := observability.GetLogger()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, "procedure-sse", cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
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

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	eventBus := events.NewRedisEventBus(redisClient)
	sseHandler := handlers.NewSSEHandler(eventBus)

	router := routes.NewRouter(routes.Handlers{Events: sseHandler}, nil, nil, metrics)
	router.AllowedOrigins = cfg.Server.AllowedOrigins

	mux := http.NewServeMux()
	mux.Handle("/", router.SetupRoutes())
	mux.HandleFunc("GET /api/events/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"connected_clients": sseHandler.GetClientCount()})
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// streams stay open; heartbeats keep proxies from closing them
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("SSE server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("SSE server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Int("clients", sseHandler.GetClientCount()).Msg("SSE server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error during server shutdown")
	}
	if err := eventBus.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing event bus")
	}
	logger.Info().Msg("SSE server stopped")
}
