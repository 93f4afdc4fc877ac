package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/loaders"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// Paging defaults.
const (
	DefaultSessionPageSize = 20
	DefaultFramePageSize   = 50
	MaxPageSize            = 500
)

// StartRecordedRequest describes a recorded session to process.
type StartRecordedRequest struct {
	Title         string `json:"title"`
	ProcedureType string `json:"procedure_type"`
	Filename      string `json:"filename"`
	// SourceKey references media already in the object store. When empty the
	// media is read from the request body.
	SourceKey string `json:"source_key,omitempty"`
}

// StartedSession is a recorded session together with its queue task.
type StartedSession struct {
	Session *entities.ProcedureSession `json:"session"`
	TaskID  string                     `json:"task_id"`
}

// SessionStatusView is a session's status, progress and stage tasks.
type SessionStatusView struct {
	SessionID    string                     `json:"session_id"`
	Status       entities.SessionStatus     `json:"status"`
	Progress     int                        `json:"progress"`
	ErrorMessage string                     `json:"error_message,omitempty"`
	Tasks        []*entities.ProcessingTask `json:"tasks"`
}

// FrameView is a frame with its analysis, if any.
type FrameView struct {
	*entities.Frame
	TimestampText string                   `json:"timestamp"`
	Analysis      *entities.AnalysisResult `json:"analysis"`
}

// FramePage is one page of a session's frames.
type FramePage struct {
	Frames []FrameView `json:"frames"`
	Total  int         `json:"total"`
	Skip   int         `json:"skip"`
	Limit  int         `json:"limit"`
}

// SessionService is the session surface used by the API, the CLI and the
// inbox watcher.
type SessionService struct {
	sessions  repositories.SessionRepository
	frames    repositories.FrameRepository
	analyses  repositories.AnalysisRepository
	summaries repositories.SummaryRepository
	tasks     repositories.ProcessingTaskRepository
	lifecycle *SessionLifecycle
	store     providers.ObjectStore
	queue     providers.TaskQueue
	exporter  *ExportService
	index     providers.FindingIndex

	Now func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(
	sessions repositories.SessionRepository,
	frames repositories.FrameRepository,
	analyses repositories.AnalysisRepository,
	summaries repositories.SummaryRepository,
	tasks repositories.ProcessingTaskRepository,
	lifecycle *SessionLifecycle,
	store providers.ObjectStore,
	queue providers.TaskQueue,
	exporter *ExportService,
	index providers.FindingIndex,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		frames:    frames,
		analyses:  analyses,
		summaries: summaries,
		tasks:     tasks,
		lifecycle: lifecycle,
		store:     store,
		queue:     queue,
		exporter:  exporter,
		index:     index,
		Now:       time.Now,
	}
}

// SourceKey is the object store key of a session's original media.
func SourceKey(sessionID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	return path.Join("sessions", sessionID, "source", "original"+ext)
}

// StartRecorded stores the media (unless req.SourceKey points at existing
// media), creates a pending recorded session and enqueues it.
func (s *SessionService) StartRecorded(ctx context.Context, req StartRecordedRequest, media io.Reader) (*StartedSession, error) {
	ctx, span := observability.StartSpan(ctx, "SessionService.StartRecorded")
	defer span.End()

	id := uuid.NewString()
	now := s.Now().UTC()

	sourceKey := req.SourceKey
	if sourceKey == "" {
		if media == nil {
			return nil, apperrors.NewValidationError("media or source_key is required")
		}
		sourceKey = SourceKey(id, req.Filename)
		if err := s.store.Put(ctx, sourceKey, media); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	} else {
		exists, err := s.store.Exists(ctx, sourceKey)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperrors.NewValidationError(fmt.Sprintf("source %s does not exist", sourceKey))
		}
	}

	filename := req.Filename
	if filename == "" {
		filename = path.Base(sourceKey)
	}
	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	session := &entities.ProcedureSession{
		ID:             id,
		Kind:           entities.SessionKindRecorded,
		Title:          title,
		ProcedureType:  req.ProcedureType,
		Status:         entities.SessionStatusPending,
		SourceKey:      sourceKey,
		SourceFilename: filename,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	taskID, err := s.queue.Enqueue(ctx, &entities.QueueTask{
		SessionID:  id,
		Kind:       entities.QueueTaskKindProcessSession,
		EnqueuedAt: now,
	})
	if err != nil {
		if _, failErr := s.lifecycle.Fail(ctx, id, "failed to enqueue: "+err.Error()); failErr != nil {
			observability.LoggerFromContext(ctx).Error().Err(failErr).Str("session_id", id).Msg("failed to mark session failed")
		}
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("session_id", id).
		Str("task_id", taskID).
		Str("source_key", sourceKey).
		Msg("recorded session enqueued")
	return &StartedSession{Session: session, TaskID: taskID}, nil
}

// IngestFile starts a recorded session for a media file on local disk.
func (s *SessionService) IngestFile(ctx context.Context, filePath, procedureType string) (*StartedSession, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("cannot open %s: %v", filePath, err))
	}
	defer f.Close()

	return s.StartRecorded(ctx, StartRecordedRequest{
		Filename:      filepath.Base(filePath),
		ProcedureType: procedureType,
	}, f)
}

// Get returns a session.
func (s *SessionService) Get(ctx context.Context, id string) (*entities.ProcedureSession, error) {
	return s.sessions.GetByID(ctx, id)
}

// List returns sessions newest first.
func (s *SessionService) List(ctx context.Context, filter repositories.SessionFilter) ([]*entities.ProcedureSession, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultSessionPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return nil, apperrors.NewValidationError("invalid session kind: " + string(filter.Kind))
	}
	return s.sessions.List(ctx, filter)
}

// Status returns a session's status, progress and stage tasks.
func (s *SessionService) Status(ctx context.Context, id string) (*SessionStatusView, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ListBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*entities.ProcessingTask{}
	}
	return &SessionStatusView{
		SessionID:    session.ID,
		Status:       session.Status,
		Progress:     session.Progress,
		ErrorMessage: session.ErrorMessage,
		Tasks:        tasks,
	}, nil
}

// Abort fails a recorded session that has not finished. Work still running
// for it is discarded when it reports back.
func (s *SessionService) Abort(ctx context.Context, id string) (*entities.ProcedureSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Kind != entities.SessionKindRecorded {
		return nil, apperrors.NewValidationError("live sessions are finalized, not aborted")
	}

	ok, err := s.lifecycle.Abort(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewConflictError(fmt.Sprintf("session %s is already %s", id, session.Status))
	}
	return s.sessions.GetByID(ctx, id)
}

// Frames returns a page of frames with their analyses. Analyses are loaded
// in one batch per page.
func (s *SessionService) Frames(ctx context.Context, id string, skip, limit int) (*FramePage, error) {
	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultFramePageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if skip < 0 {
		skip = 0
	}

	total, err := s.frames.CountBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	frames, err := s.frames.ListBySession(ctx, id, skip, limit)
	if err != nil {
		return nil, err
	}

	l := loaders.For(ctx)
	if l == nil {
		l = loaders.NewLoaders(s.analyses)
	}
	ids := make([]string, len(frames))
	for i, f := range frames {
		ids[i] = f.ID
	}
	analyses, errs := l.AnalysisByFrame.LoadMany(ctx, ids)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	page := &FramePage{Frames: make([]FrameView, len(frames)), Total: total, Skip: skip, Limit: limit}
	for i, f := range frames {
		page.Frames[i] = FrameView{Frame: f, TimestampText: f.Timestamp()}
		if i < len(analyses) {
			page.Frames[i].Analysis = analyses[i]
		}
	}
	return page, nil
}

// Summary returns a session's summary.
func (s *SessionService) Summary(ctx context.Context, id string) (*entities.SessionSummary, error) {
	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.summaries.GetBySession(ctx, id)
}

// RequestExport returns a time-limited download reference to the session's
// bundle.
func (s *SessionService) RequestExport(ctx context.Context, id string) (*ExportLink, error) {
	return s.exporter.DownloadLink(ctx, id)
}

// SearchFindings queries the findings index.
func (s *SessionService) SearchFindings(ctx context.Context, params providers.FindingSearchParams) ([]providers.IndexedFinding, error) {
	if s.index == nil {
		return nil, apperrors.NewConflictError("findings search is not enabled")
	}
	return s.index.Search(ctx, params)
}

// Reindex rebuilds the findings index for one session.
func (s *SessionService) Reindex(ctx context.Context, id string) (int, error) {
	if s.index == nil {
		return 0, apperrors.NewConflictError("findings search is not enabled")
	}
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	analyses, err := s.analyses.ListBySession(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.index.IndexAnalyses(ctx, session, analyses); err != nil {
		return 0, err
	}
	return len(analyses), nil
}

// TaskState returns the queue's view of a task.
func (s *SessionService) TaskState(ctx context.Context, taskID string) (*entities.QueueTaskState, error) {
	return s.queue.Poll(ctx, taskID)
}
