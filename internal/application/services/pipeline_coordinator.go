package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/internal/sampling"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
	"github.com/zatekoja/procedurecopilot/backend/pkg/retry"
)

// PipelineDependencies groups the collaborators of the batch pipeline.
type PipelineDependencies struct {
	Sessions  repositories.SessionRepository
	Frames    repositories.FrameRepository
	Analyses  repositories.AnalysisRepository
	Summaries repositories.SummaryRepository
	Tasks     repositories.ProcessingTaskRepository
	Lifecycle *SessionLifecycle
	Extractor providers.FrameExtractor
	Sampler   *sampling.Sampler
	Analyzer  *FrameAnalyzer
	Cache     *AnalysisCache
	Exporter  *ExportService
	Queue     providers.TaskQueue

	// Index is optional; indexing failures never fail a session.
	Index   providers.FindingIndex
	Metrics *observability.Metrics
}

// stageFunc runs one stage. report takes a stage-local percentage.
type stageFunc func(ctx context.Context, session *entities.ProcedureSession, task *entities.ProcessingTask, report func(int) error) error

// PipelineCoordinator drives a recorded session through extraction,
// analysis, summary and export.
type PipelineCoordinator struct {
	deps      PipelineDependencies
	cfg       config.PipelineConfig
	targetFPS float64

	// Retry is the per-stage retry budget for extraction, summary and export.
	Retry retry.Config
	Now   func() time.Time
}

// NewPipelineCoordinator creates a new pipeline coordinator
func NewPipelineCoordinator(deps PipelineDependencies, cfg config.PipelineConfig, targetFPS float64) *PipelineCoordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if targetFPS <= 0 {
		targetFPS = 1.0
	}
	if deps.Sampler == nil {
		deps.Sampler = sampling.New(sampling.DefaultPolicy())
	}
	return &PipelineCoordinator{
		deps:      deps,
		cfg:       cfg,
		targetFPS: targetFPS,
		Retry:     retry.StageConfig(cfg.StageAttempts, apperrors.IsTransient),
		Now:       time.Now,
	}
}

// Process runs the whole pipeline for one queue task. Results for sessions
// that left processing in the meantime are discarded without error.
func (p *PipelineCoordinator) Process(ctx context.Context, task *entities.QueueTask) error {
	ctx, span := observability.StartSpan(ctx, "PipelineCoordinator.Process")
	defer span.End()
	logger := observability.LoggerFromContext(ctx).With().
		Str("session_id", task.SessionID).
		Str("task_id", task.ID).
		Logger()

	session, err := p.deps.Sessions.GetByID(ctx, task.SessionID)
	if err != nil {
		p.reportQueue(ctx, task, entities.TaskStatusFailed, 0, err.Error())
		return err
	}
	if session.Kind != entities.SessionKindRecorded {
		err := apperrors.NewValidationError(fmt.Sprintf("session %s is not a recorded session", session.ID))
		p.reportQueue(ctx, task, entities.TaskStatusFailed, session.Progress, err.Error())
		return err
	}

	started, err := p.deps.Lifecycle.StartProcessing(ctx, session.ID)
	if err != nil {
		p.reportQueue(ctx, task, entities.TaskStatusFailed, session.Progress, err.Error())
		return err
	}
	if !started && session.Status != entities.SessionStatusProcessing {
		logger.Info().Str("status", string(session.Status)).Msg("session is not pending; skipping task")
		p.reportQueue(ctx, task, entities.TaskStatusFailed, session.Progress, "session is "+string(session.Status))
		return nil
	}
	p.reportQueue(ctx, task, entities.TaskStatusRunning, session.Progress, "")

	stages := []struct {
		stage entities.Stage
		run   stageFunc
	}{
		{entities.StageExtraction, p.extract},
		{entities.StageAnalysis, p.analyze},
		{entities.StageSummary, p.summarize},
		{entities.StageExport, p.export},
	}

	for _, s := range stages {
		if err := p.runStage(ctx, task, session, s.stage, s.run); err != nil {
			if errors.Is(err, ErrSessionNotProcessing) {
				logger.Info().Str("stage", string(s.stage)).Msg("session left processing; discarding results")
				p.reportQueue(ctx, task, entities.TaskStatusFailed, 0, "session no longer processing")
				return nil
			}

			observability.RecordError(span, err)
			logger.Error().Err(err).Str("stage", string(s.stage)).Msg("pipeline stage failed")
			failCtx := context.WithoutCancel(ctx)
			if _, failErr := p.deps.Lifecycle.Fail(failCtx, session.ID, fmt.Sprintf("%s stage failed: %v", s.stage, err)); failErr != nil {
				logger.Error().Err(failErr).Msg("failed to mark session failed")
			}
			p.reportQueue(failCtx, task, entities.TaskStatusFailed, p.progressOf(failCtx, session.ID), err.Error())
			return err
		}
	}

	completed, err := p.deps.Lifecycle.Complete(ctx, session.ID)
	if err != nil {
		return err
	}
	if !completed {
		logger.Info().Msg("session left processing before completion; discarding results")
		p.reportQueue(ctx, task, entities.TaskStatusFailed, 0, "session no longer processing")
		return nil
	}

	p.releaseCache(ctx, session.ID)
	p.reportQueue(ctx, task, entities.TaskStatusCompleted, 100, "")
	logger.Info().Int("frames", session.TotalFrames).Msg("session processed")
	return nil
}

// runStage wraps a stage in its ProcessingTask record and progress reporting.
func (p *PipelineCoordinator) runStage(ctx context.Context, queueTask *entities.QueueTask, session *entities.ProcedureSession, stage entities.Stage, run stageFunc) error {
	ctx, span := observability.StartSpan(ctx, "PipelineCoordinator."+string(stage))
	defer span.End()

	start := p.Now()
	startedAt := start.UTC()
	record := &entities.ProcessingTask{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		QueueTaskID: queueTask.ID,
		Type:        stage,
		Status:      entities.TaskStatusRunning,
		StartedAt:   &startedAt,
		CreatedAt:   startedAt,
	}
	if err := p.deps.Tasks.Create(ctx, record); err != nil {
		return err
	}

	report := func(percent int) error {
		progress, err := p.deps.Lifecycle.ReportStageProgress(ctx, session.ID, stage, percent)
		if err != nil {
			return err
		}
		p.reportQueue(ctx, queueTask, entities.TaskStatusRunning, progress, "")
		return nil
	}

	err := report(0)
	if err == nil {
		err = run(ctx, session, record, report)
	}

	completedAt := p.Now().UTC()
	record.CompletedAt = &completedAt
	status := entities.TaskStatusCompleted
	if err != nil {
		status = entities.TaskStatusFailed
		record.ErrorMessage = err.Error()
		observability.RecordError(span, err)
	}
	record.Status = status
	if updateErr := p.deps.Tasks.Update(context.WithoutCancel(ctx), record); updateErr != nil {
		observability.LoggerFromContext(ctx).Warn().Err(updateErr).
			Str("session_id", session.ID).
			Str("stage", string(stage)).
			Msg("failed to update processing task")
	}
	observability.RecordStage(ctx, p.deps.Metrics, string(stage), string(status), p.Now().Sub(start))
	return err
}

func (p *PipelineCoordinator) extract(ctx context.Context, session *entities.ProcedureSession, task *entities.ProcessingTask, report func(int) error) error {
	if session.SourceKey == "" {
		return apperrors.NewValidationError(fmt.Sprintf("session %s has no source media", session.ID))
	}

	var result *providers.ExtractionResult
	err := retry.DoWithLog(ctx, p.Retry, "extraction", func() error {
		r, err := p.deps.Extractor.Extract(ctx, session.SourceKey, providers.ExtractionConfig{
			TargetFPS: p.targetFPS,
			OutputKey: path.Join("sessions", session.ID, "frames"),
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	}, p.logRetry(ctx, session.ID, entities.StageExtraction))
	if err != nil {
		return err
	}
	if err := report(50); err != nil {
		return err
	}

	selected := p.deps.Sampler.Select(result.Candidates)
	now := p.Now().UTC()
	frames := make([]*entities.Frame, 0, len(selected))
	for _, c := range selected {
		key := c.ImageRef
		if key == "" {
			key = entities.FrameImageKey(session.ID, c.Index)
		}
		frames = append(frames, &entities.Frame{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Index:       c.Index,
			TimestampMS: c.TimestampMS,
			IsKeyframe:  c.IsKeyframe,
			ImageKey:    key,
			MotionScore: c.MotionScore,
			CreatedAt:   now,
		})
	}
	if err := p.deps.Frames.CreateBatch(ctx, frames); err != nil {
		return err
	}

	session.TotalFrames = len(frames)
	session.DurationSeconds = result.DurationSeconds
	if err := p.deps.Sessions.Update(ctx, session); err != nil {
		return err
	}

	task.ProgressCurrent = len(frames)
	task.ProgressTotal = len(result.Candidates)
	observability.LoggerFromContext(ctx).Info().
		Str("session_id", session.ID).
		Int("candidates", len(result.Candidates)).
		Int("selected", len(frames)).
		Msg("frames extracted")
	return report(100)
}

func (p *PipelineCoordinator) analyze(ctx context.Context, session *entities.ProcedureSession, task *entities.ProcessingTask, report func(int) error) error {
	logger := observability.LoggerFromContext(ctx)

	pending, err := p.deps.Frames.ListUnanalyzed(ctx, session.ID)
	if err != nil {
		return err
	}
	total, err := p.deps.Frames.CountBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	task.ProgressTotal = total
	task.ProgressCurrent = total - len(pending)
	if len(pending) == 0 {
		return report(100)
	}

	var (
		mu        sync.Mutex
		succeeded int
		failed    []int
		firstErr  error
	)

	for start := 0; start < len(pending); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.BatchSize)
		for _, frame := range pending[start:end] {
			frame := frame
			g.Go(func() error {
				_, err := p.deps.Cache.GetOrSubmit(gctx, AnalysisRequest{
					SessionID:  session.ID,
					Kind:       entities.SessionKindRecorded,
					FrameIndex: frame.Index,
					Mode:       ModeAwait,
				}, func(ctx context.Context) (*entities.AnalysisResult, error) {
					return p.deps.Analyzer.Analyze(ctx, session, frame)
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed = append(failed, frame.Index)
					if firstErr == nil {
						firstErr = err
					}
					logger.Warn().Err(err).
						Str("session_id", session.ID).
						Int("frame_index", frame.Index).
						Msg("frame analysis failed")
					if p.cfg.AnalysisFailureFatal {
						return fmt.Errorf("frame %d: %w", frame.Index, err)
					}
					return nil
				}
				succeeded++
				task.ProgressCurrent++
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := report(end * 100 / len(pending)); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		if succeeded == 0 && task.ProgressCurrent == 0 {
			return fmt.Errorf("all %d frames failed analysis: %w", len(failed), firstErr)
		}
		task.ErrorMessage = fmt.Sprintf("%d frames failed analysis", len(failed))
		logger.Warn().
			Str("session_id", session.ID).
			Ints("frame_indexes", failed).
			Msg("continuing with partially analyzed session")
	}
	return nil
}

func (p *PipelineCoordinator) summarize(ctx context.Context, session *entities.ProcedureSession, task *entities.ProcessingTask, report func(int) error) error {
	analyses, err := p.deps.Analyses.ListBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	frames, err := p.deps.Frames.ListBySession(ctx, session.ID, 0, 0)
	if err != nil {
		return err
	}
	timestamps := make(map[int]int64, len(frames))
	for _, f := range frames {
		timestamps[f.Index] = f.TimestampMS
	}

	summary := BuildSummary(session.ID, analyses, timestamps, p.Now())
	err = retry.DoWithLog(ctx, p.Retry, "summary", func() error {
		return p.deps.Summaries.Upsert(ctx, summary)
	}, p.logRetry(ctx, session.ID, entities.StageSummary))
	if err != nil {
		return err
	}
	task.ProgressCurrent = summary.TotalAnalyzed
	task.ProgressTotal = len(frames)
	if err := report(50); err != nil {
		return err
	}

	if p.deps.Index != nil {
		if err := p.deps.Index.IndexAnalyses(ctx, session, analyses); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Str("session_id", session.ID).
				Msg("failed to index findings")
		}
	}
	return report(100)
}

func (p *PipelineCoordinator) export(ctx context.Context, session *entities.ProcedureSession, task *entities.ProcessingTask, report func(int) error) error {
	var reportErr error
	progress := func(percent int) {
		if reportErr == nil {
			reportErr = report(percent)
		}
	}

	var key string
	err := retry.DoWithLog(ctx, p.Retry, "export", func() error {
		k, err := p.deps.Exporter.BuildBundle(ctx, session.ID, progress)
		if err != nil {
			return err
		}
		key = k
		return nil
	}, p.logRetry(ctx, session.ID, entities.StageExport))
	if reportErr != nil {
		return reportErr
	}
	if err != nil {
		return err
	}

	session.ExportKey = key
	task.ProgressCurrent, task.ProgressTotal = 1, 1
	return report(100)
}

func (p *PipelineCoordinator) releaseCache(ctx context.Context, sessionID string) {
	if p.deps.Cache == nil {
		return
	}
	frames, err := p.deps.Frames.ListBySession(ctx, sessionID, 0, 0)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("failed to list frames for cache release")
		return
	}
	indexes := make([]int, 0, len(frames))
	for _, f := range frames {
		indexes = append(indexes, f.Index)
	}
	if err := p.deps.Cache.ReleaseSession(ctx, sessionID, indexes); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("failed to release cached analyses")
	}
}

func (p *PipelineCoordinator) progressOf(ctx context.Context, sessionID string) int {
	session, err := p.deps.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return 0
	}
	return session.Progress
}

func (p *PipelineCoordinator) reportQueue(ctx context.Context, task *entities.QueueTask, status entities.TaskStatus, progress int, message string) {
	if p.deps.Queue == nil || task.ID == "" {
		return
	}
	state := &entities.QueueTaskState{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    status,
		Progress:  progress,
		Error:     message,
		UpdatedAt: p.Now().UTC(),
	}
	if err := p.deps.Queue.Report(ctx, state); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("task_id", task.ID).Msg("failed to report task state")
	}
}

func (p *PipelineCoordinator) logRetry(ctx context.Context, sessionID string, stage entities.Stage) func(int, error, time.Duration) {
	return func(attempt int, err error, nextDelay time.Duration) {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("session_id", sessionID).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Dur("retry_in", nextDelay).
			Msg("stage attempt failed")
	}
}
