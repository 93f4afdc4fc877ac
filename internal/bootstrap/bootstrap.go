// Package bootstrap wires the adapters and services shared by the API,
// the pipeline worker and the admin CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/analysis"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/cache"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/database"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/events"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/extraction"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/queue"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/search"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/storage"
	"github.com/zatekoja/procedurecopilot/backend/internal/adapters/tokens"
	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/internal/sampling"
	"github.com/zatekoja/procedurecopilot/backend/migrations"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
)

// App holds the wired components of one process.
type App struct {
	Config  *config.Config
	Metrics *observability.Metrics

	Postgres *postgres.Client
	Redis    *redis.Client

	Sessions      repositories.SessionRepository
	Frames        repositories.FrameRepository
	Analyses      repositories.AnalysisRepository
	Summaries     repositories.SummaryRepository
	Tasks         repositories.ProcessingTaskRepository
	Conversations repositories.ConversationRepository

	Store  *storage.FilesystemStore
	Cache  providers.CacheProvider
	Events providers.EventBus
	Queue  providers.TaskQueue
	Index  *search.TypesenseAdapter

	Lifecycle     *services.SessionLifecycle
	AnalysisCache *services.AnalysisCache
	Exporter      *services.ExportService
	SessionSvc    *services.SessionService

	analysisClient *analysis.Client
	closers        []func() error
}

// New connects to Postgres and Redis and builds the shared services. Redis
// is required: it carries the task queue, the event bus and the analysis cache.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	logger := observability.LoggerFromContext(ctx)
	app := &App{Config: cfg, Metrics: metrics}

	if cfg.Database.MigrateOnStart {
		if err := postgres.RunMigrations(cfg.Database.DatabaseURL(), migrations.FS); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info().Msg("database migrations applied")
	}

	pgClient, err := postgres.NewClient(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	app.Postgres = pgClient
	app.closers = append(app.closers, pgClient.Close)

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	app.Redis = redisClient
	app.closers = append(app.closers, redisClient.Close)

	app.Sessions = database.NewSessionAdapter(pgClient)
	app.Frames = database.NewFrameAdapter(pgClient)
	app.Analyses = database.NewAnalysisAdapter(pgClient)
	app.Summaries = database.NewSummaryAdapter(pgClient)
	app.Tasks = database.NewProcessingTaskAdapter(pgClient)
	app.Conversations = database.NewConversationAdapter(pgClient)

	store, err := storage.NewFilesystemStore(cfg.Storage.RootDir, cfg.Storage.SigningKey, cfg.Server.PublicBaseURL)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}
	app.Store = store

	app.Cache = cache.NewRedisAdapter(redisClient)
	app.Events = events.NewRedisEventBus(redisClient)
	app.closers = append(app.closers, app.Events.Close)
	app.Queue = queue.NewRedisTaskQueue(redisClient, cfg.Pipeline.QueueName)

	if cfg.Typesense.Enabled {
		tsClient, err := typesense.NewClient(&cfg.Typesense)
		if err != nil {
			logger.Warn().Err(err).Msg("findings search disabled")
		} else {
			index := search.NewTypesenseAdapter(tsClient)
			if err := index.InitSchema(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to init findings collection")
			}
			app.Index = index
		}
	}

	app.Lifecycle = services.NewSessionLifecycle(app.Sessions, app.Events)
	app.AnalysisCache = services.NewAnalysisCache(app.Cache, cfg.Cache, metrics)
	app.Exporter = services.NewExportService(app.Sessions, app.Frames, app.Analyses, app.Summaries, app.Conversations, store, cfg.Storage.DownloadTTL)
	app.SessionSvc = services.NewSessionService(
		app.Sessions, app.Frames, app.Analyses, app.Summaries, app.Tasks,
		app.Lifecycle, store, app.Queue, app.Exporter, app.findingIndex(),
	)

	return app, nil
}

// findingIndex keeps a disabled index a nil interface.
func (a *App) findingIndex() providers.FindingIndex {
	if a.Index == nil {
		return nil
	}
	return a.Index
}

// Analyzer builds the frame analyzer over the analysis backend.
func (a *App) Analyzer() (*services.FrameAnalyzer, error) {
	if a.analysisClient == nil {
		client, err := analysis.NewClient(&a.Config.Analysis, a.Store)
		if err != nil {
			return nil, err
		}
		a.analysisClient = client
		a.closers = append(a.closers, func() error {
			client.Close()
			return nil
		})
	}
	return services.NewFrameAnalyzer(a.analysisClient, a.Analyses, a.Frames, a.Config.Pipeline.StageAttempts, a.Metrics), nil
}

// Pipeline builds the recorded-session pipeline coordinator.
func (a *App) Pipeline() (*services.PipelineCoordinator, error) {
	extractor, err := extraction.NewClient(&a.Config.Extraction)
	if err != nil {
		return nil, err
	}
	analyzer, err := a.Analyzer()
	if err != nil {
		return nil, err
	}

	return services.NewPipelineCoordinator(services.PipelineDependencies{
		Sessions:  a.Sessions,
		Frames:    a.Frames,
		Analyses:  a.Analyses,
		Summaries: a.Summaries,
		Tasks:     a.Tasks,
		Lifecycle: a.Lifecycle,
		Extractor: extractor,
		Sampler:   sampling.New(sampling.PolicyFromConfig(a.Config.Sampler)),
		Analyzer:  analyzer,
		Cache:     a.AnalysisCache,
		Exporter:  a.Exporter,
		Queue:     a.Queue,
		Index:     a.findingIndex(),
		Metrics:   a.Metrics,
	}, a.Config.Pipeline, a.Config.Extraction.TargetFPS), nil
}

// Conversation builds the conversation service with the model's tokenizer.
func (a *App) Conversation() *services.ConversationService {
	counter, err := tokens.NewCounter(a.Config.Realtime.Model)
	if err != nil {
		observability.GetLogger().Warn().Err(err).Msg("tokenizer unavailable, using approximate token counts")
	}
	return services.NewConversationService(a.Conversations, counter, a.Config.Live.ContextTokenBudget)
}

// Live builds the live session engine.
func (a *App) Live() (*services.LiveSessionService, *services.ConversationService, error) {
	analyzer, err := a.Analyzer()
	if err != nil {
		return nil, nil, err
	}
	conversations := a.Conversation()

	live := services.NewLiveSessionService(services.LiveSessionDependencies{
		Sessions:      a.Sessions,
		Frames:        a.Frames,
		Analyses:      a.Analyses,
		Summaries:     a.Summaries,
		Lifecycle:     a.Lifecycle,
		Cache:         a.AnalysisCache,
		Analyzer:      analyzer,
		Store:         a.Store,
		Conversations: conversations,
		Exporter:      a.Exporter,
		Events:        a.Events,
		Metrics:       a.Metrics,
	}, a.Config.Live)
	return live, conversations, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	logger := observability.GetLogger()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("error during shutdown")
		}
	}
	a.closers = nil
}
