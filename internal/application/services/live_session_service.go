package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	"github.com/zatekoja/procedurecopilot/backend/internal/realtime"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// StartLiveRequest describes a new live session.
type StartLiveRequest struct {
	Title         string `json:"title"`
	ProcedureType string `json:"procedure_type"`
	// ContinueFrom hands the still-open realtime channel of a finalized
	// session over to the new one.
	ContinueFrom string `json:"continue_from,omitempty"`
}

// LiveStatus is a snapshot of a live session's engine state.
type LiveStatus struct {
	Session      *entities.ProcedureSession `json:"session"`
	Capturing    bool                       `json:"capturing"`
	Analyzing    bool                       `json:"analyzing"`
	ChannelState entities.ChannelState      `json:"channel_state"`
	Findings     int                        `json:"findings"`
	FramesPushed int                        `json:"frames_pushed"`
	Overwritten  uint64                     `json:"frames_overwritten"`
}

// LiveSessionDependencies groups the collaborators of the live engine.
type LiveSessionDependencies struct {
	Sessions      repositories.SessionRepository
	Frames        repositories.FrameRepository
	Analyses      repositories.AnalysisRepository
	Summaries     repositories.SummaryRepository
	Lifecycle     *SessionLifecycle
	Cache         *AnalysisCache
	Analyzer      *FrameAnalyzer
	Store         providers.ObjectStore
	Conversations *ConversationService
	Exporter      *ExportService
	Events        providers.EventBus
	Metrics       *observability.Metrics
}

// channelBinding ties a realtime channel to whichever live session currently
// owns it.
type channelBinding struct {
	ch *realtime.Channel

	mu    sync.Mutex
	owner string
}

func (b *channelBinding) Owner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

func (b *channelBinding) setOwner(id string) {
	b.mu.Lock()
	b.owner = id
	b.mu.Unlock()
}

// LiveSession is the per-session context shared by the capture scheduler,
// the inactivity monitor, the analysis cache and the realtime channel.
type LiveSession struct {
	ID        string
	StartedAt time.Time

	slot      *FrameSlot
	scheduler *LiveCaptureScheduler
	monitor   *InactivityMonitor
	timeline  *FindingTimeline

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	session    *entities.ProcedureSession
	nextIndex  int
	finalTitle string
	binding    *channelBinding
	finalized  chan struct{}
}

func (ls *LiveSession) snapshot() *entities.ProcedureSession {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	cp := *ls.session
	return &cp
}

func (ls *LiveSession) channel() *realtime.Channel {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.binding == nil {
		return nil
	}
	return ls.binding.ch
}

// Finalized is closed once the session has been finalized.
func (ls *LiveSession) Finalized() <-chan struct{} {
	return ls.finalized
}

// LiveSessionService runs live sessions: frame intake, cadence-driven
// analysis, the rolling findings timeline, realtime channel injection and
// inactivity finalization.
type LiveSessionService struct {
	deps LiveSessionDependencies
	cfg  config.LiveConfig

	Now func() time.Time

	mu       sync.Mutex
	live     map[string]*LiveSession
	detached map[string]*channelBinding
}

// NewLiveSessionService creates a new live session service
func NewLiveSessionService(deps LiveSessionDependencies, cfg config.LiveConfig) *LiveSessionService {
	if cfg.CaptureInterval <= 0 {
		cfg.CaptureInterval = DefaultCaptureInterval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = DefaultInactivityThreshold
	}
	if cfg.TimelineCapacity <= 0 {
		cfg.TimelineCapacity = DefaultTimelineCapacity
	}
	return &LiveSessionService{
		deps:     deps,
		cfg:      cfg,
		Now:      time.Now,
		live:     make(map[string]*LiveSession),
		detached: make(map[string]*channelBinding),
	}
}

// Start creates a live session, activates it and arms its inactivity monitor.
func (s *LiveSessionService) Start(ctx context.Context, req StartLiveRequest) (*entities.ProcedureSession, error) {
	now := s.Now().UTC()
	session := &entities.ProcedureSession{
		ID:            uuid.NewString(),
		Kind:          entities.SessionKindLive,
		Title:         req.Title,
		ProcedureType: req.ProcedureType,
		Status:        entities.SessionStatusPending,
		StartedAt:     &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deps.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	if _, err := s.deps.Lifecycle.Activate(ctx, session.ID); err != nil {
		return nil, err
	}
	session.Status = entities.SessionStatusActive

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ls := &LiveSession{
		ID:         session.ID,
		StartedAt:  now,
		slot:       &FrameSlot{},
		timeline:   NewFindingTimeline(s.cfg.TimelineCapacity),
		ctx:        baseCtx,
		cancel:     cancel,
		session:    session,
		finalTitle: req.Title,
		finalized:  make(chan struct{}),
	}
	ls.monitor = NewInactivityMonitor(s.cfg.InactivityThreshold, func() { s.finalize(ls) })
	ls.scheduler = NewLiveCaptureScheduler(session.ID, s.cfg.CaptureInterval, ls.slot, s.submitFunc(ls), s.deps.Metrics)
	ls.scheduler.OnActivity = ls.monitor.Reset

	s.mu.Lock()
	if req.ContinueFrom != "" {
		if b, ok := s.detached[req.ContinueFrom]; ok {
			delete(s.detached, req.ContinueFrom)
			b.setOwner(session.ID)
			ls.binding = b
		}
	}
	s.live[session.ID] = ls
	s.mu.Unlock()

	ls.monitor.Reset()

	observability.LoggerFromContext(ctx).Info().
		Str("session_id", session.ID).
		Bool("channel_carried_over", ls.binding != nil).
		Msg("live session started")
	return session, nil
}

// Get returns the running live session.
func (s *LiveSessionService) Get(id string) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.live[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("live session %s is not running", id))
	}
	return ls, nil
}

// Active returns the ids of running live sessions.
func (s *LiveSessionService) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	return ids
}

// Status returns a snapshot of a running live session.
func (s *LiveSessionService) Status(id string) (*LiveStatus, error) {
	ls, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	status := &LiveStatus{
		Session:      ls.snapshot(),
		Capturing:    ls.scheduler.Running(),
		Analyzing:    ls.scheduler.Busy(),
		ChannelState: entities.ChannelIdle,
		Findings:     ls.timeline.Len(),
		Overwritten:  ls.slot.Overwritten(),
	}
	ls.mu.Lock()
	status.FramesPushed = ls.nextIndex
	ls.mu.Unlock()
	if ch := ls.channel(); ch != nil {
		status.ChannelState = ch.State()
	}
	return status, nil
}

// PushFrame stores a captured frame and makes it the scheduler's latest
// frame. A negative timestamp is replaced by the time since session start.
func (s *LiveSessionService) PushFrame(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.Frame, error) {
	ls, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := s.Now().UTC()
	ls.mu.Lock()
	index := ls.nextIndex
	ls.nextIndex++
	ls.mu.Unlock()
	if timestampMS < 0 {
		timestampMS = now.Sub(ls.StartedAt).Milliseconds()
	}

	key := entities.FrameImageKey(id, index)
	if err := s.deps.Store.Put(ctx, key, image); err != nil {
		return nil, err
	}
	frame := &entities.Frame{
		ID:          uuid.NewString(),
		SessionID:   id,
		Index:       index,
		TimestampMS: timestampMS,
		ImageKey:    key,
		CreatedAt:   now,
	}
	if err := s.deps.Frames.CreateBatch(ctx, []*entities.Frame{frame}); err != nil {
		return nil, err
	}

	if ls.slot.Put(frame) {
		observability.LoggerFromContext(ctx).Debug().
			Str("session_id", id).
			Int("frame_index", index).
			Msg("unconsumed live frame replaced")
	}
	return frame, nil
}

// AnalyzeNow stores a frame and analyzes it immediately, outside the
// scheduler's cadence. It shares the scheduler's gate, so it waits for a
// cadence analysis that is already running.
func (s *LiveSessionService) AnalyzeNow(ctx context.Context, id string, image io.Reader, timestampMS int64) (*entities.AnalysisResult, error) {
	ls, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	release, err := ls.scheduler.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	frame, err := s.PushFrame(ctx, id, image, timestampMS)
	if err != nil {
		return nil, err
	}
	// The scheduler must not pick this frame up a second time.
	if taken, ok := ls.slot.Take(); ok && taken.ID != frame.ID {
		ls.slot.Restore(taken)
	}

	session := ls.snapshot()
	result, err := s.deps.Cache.GetOrSubmit(ctx, AnalysisRequest{
		SessionID:  id,
		Kind:       entities.SessionKindLive,
		FrameIndex: frame.Index,
		Mode:       ModeAwait,
	}, func(ctx context.Context) (*entities.AnalysisResult, error) {
		return s.deps.Analyzer.Analyze(ctx, session, frame)
	})
	if err != nil {
		return nil, err
	}
	s.onResult(ctx, ls, frame, result)
	ls.monitor.Reset()
	return result, nil
}

// StartCapture resumes the capture cadence and marks the session active.
func (s *LiveSessionService) StartCapture(ctx context.Context, id string) error {
	ls, err := s.Get(id)
	if err != nil {
		return err
	}
	if _, err := s.deps.Lifecycle.Activate(ctx, id); err != nil {
		return err
	}
	s.setStatus(ls, entities.SessionStatusActive)
	ls.scheduler.Start(ls.ctx)
	ls.monitor.Reset()
	return nil
}

// StopCapture suspends the capture cadence and marks the session idle. The
// inactivity monitor keeps running.
func (s *LiveSessionService) StopCapture(ctx context.Context, id string) error {
	ls, err := s.Get(id)
	if err != nil {
		return err
	}
	ls.scheduler.Stop()
	if _, err := s.deps.Lifecycle.MarkIdle(ctx, id); err != nil {
		return err
	}
	s.setStatus(ls, entities.SessionStatusIdle)
	return nil
}

// Findings returns the rolling findings timeline.
func (s *LiveSessionService) Findings(id string) ([]entities.TimelineEntry, error) {
	ls, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return ls.timeline.Entries(), nil
}

// ClearFindings empties the rolling findings timeline.
func (s *LiveSessionService) ClearFindings(id string) error {
	ls, err := s.Get(id)
	if err != nil {
		return err
	}
	ls.timeline.Clear()
	return nil
}

// Finalize completes the session now. Concurrent and repeated calls, and a
// racing inactivity timeout, finalize it once.
func (s *LiveSessionService) Finalize(ctx context.Context, id, title string) (*entities.ProcedureSession, error) {
	ls, err := s.Get(id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return s.deps.Sessions.GetByID(ctx, id)
		}
		return nil, err
	}

	if title != "" {
		ls.mu.Lock()
		ls.finalTitle = title
		ls.mu.Unlock()
	}
	ls.monitor.Expire()

	select {
	case <-ls.finalized:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.deps.Sessions.GetByID(ctx, id)
}

// AttachChannel connects a realtime channel for the session over the given
// media source and transport. Findings are injected into it and its
// transcript is recorded.
func (s *LiveSessionService) AttachChannel(ctx context.Context, id string, media providers.MediaSource, transport providers.RealtimeTransport, sessionCfg realtime.SessionConfig) (*realtime.Channel, error) {
	ls, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if ch := ls.channel(); ch != nil && !ch.State().IsTerminal() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("live session %s already has a realtime channel", id))
	}

	binding := &channelBinding{owner: id}
	binding.ch = realtime.NewChannel(realtime.Options{
		SessionID: id,
		Media:     media,
		Transport: transport,
		Session:   sessionCfg,
		Metrics:   s.deps.Metrics,
		Now:       s.Now,
		OnStateChange: func(from, to entities.ChannelState) {
			s.publish(ls.ctx, binding.Owner(), entities.SessionEventChannelState, map[string]interface{}{
				"from": string(from),
				"to":   string(to),
			})
		},
		OnMessage: func(msg entities.ConversationMessage) {
			s.recordMessage(binding.Owner(), msg)
		},
	})

	ls.mu.Lock()
	ls.binding = binding
	ls.mu.Unlock()

	if err := binding.ch.Connect(ctx); err != nil {
		ls.mu.Lock()
		if ls.binding == binding {
			ls.binding = nil
		}
		ls.mu.Unlock()
		return nil, err
	}

	go s.watchChannel(binding)
	return binding.ch, nil
}

// Shutdown finalizes every running live session.
func (s *LiveSessionService) Shutdown(ctx context.Context) {
	for _, id := range s.Active() {
		if _, err := s.Finalize(ctx, id, ""); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("session_id", id).Msg("failed to finalize live session on shutdown")
		}
	}

	s.mu.Lock()
	detached := s.detached
	s.detached = make(map[string]*channelBinding)
	s.mu.Unlock()
	for _, b := range detached {
		_ = b.ch.Close()
	}
}

// watchChannel tears the owning session down when its channel ends.
func (s *LiveSessionService) watchChannel(b *channelBinding) {
	<-b.ch.Done()

	owner := b.Owner()
	s.mu.Lock()
	if s.detached[owner] == b {
		delete(s.detached, owner)
	}
	ls, ok := s.live[owner]
	s.mu.Unlock()

	if !ok || ls.channel() != b.ch {
		return
	}
	observability.GetLogger().Info().
		Str("session_id", owner).
		Str("channel_state", string(b.ch.State())).
		Msg("realtime channel ended; finalizing live session")
	ls.monitor.Expire()
}

func (s *LiveSessionService) submitFunc(ls *LiveSession) SubmitFunc {
	return func(ctx context.Context, frame *entities.Frame, done func()) error {
		session := ls.snapshot()
		return s.deps.Cache.SubmitAsync(ls.ctx, AnalysisRequest{
			SessionID:  ls.ID,
			Kind:       entities.SessionKindLive,
			FrameIndex: frame.Index,
			Mode:       ModeSkip,
		}, func(ctx context.Context) (*entities.AnalysisResult, error) {
			return s.deps.Analyzer.Analyze(ctx, session, frame)
		}, func(result *entities.AnalysisResult, err error) {
			defer done()
			if err != nil {
				observability.LoggerFromContext(ls.ctx).Warn().Err(err).
					Str("session_id", ls.ID).
					Int("frame_index", frame.Index).
					Msg("live analysis failed")
				return
			}
			s.onResult(ls.ctx, ls, frame, result)
		})
	}
}

// onResult puts a validated finding on the timeline, announces it and
// injects it into the realtime channel.
func (s *LiveSessionService) onResult(ctx context.Context, ls *LiveSession, frame *entities.Frame, result *entities.AnalysisResult) {
	finding, ok := FindingFor(result)
	if !ok {
		return
	}
	select {
	case <-ls.finalized:
		return
	default:
	}

	entry := entities.TimelineEntry{
		At:          s.Now(),
		FrameIndex:  frame.Index,
		TimestampMS: frame.TimestampMS,
		Finding:     finding,
	}
	ls.timeline.Add(entry)

	s.publish(ctx, ls.ID, entities.SessionEventFinding, map[string]interface{}{
		"frame_index":  frame.Index,
		"timestamp_ms": frame.TimestampMS,
		"finding":      finding.Finding,
		"location":     finding.Location,
		"risk_level":   string(result.RiskLevel),
		"line":         entry.Line(),
	})

	if ch := ls.channel(); ch != nil {
		ch.InjectFinding(ctx, finding)
	}
}

func (s *LiveSessionService) recordMessage(owner string, msg entities.ConversationMessage) {
	msg.SessionID = owner
	s.mu.Lock()
	ls, ok := s.live[owner]
	s.mu.Unlock()
	ctx := context.Background()
	if ok {
		ctx = ls.ctx
		offset := msg.CreatedAt.Sub(ls.StartedAt).Milliseconds()
		if offset >= 0 {
			msg.VideoTimestampMS = &offset
		}
	}
	if s.deps.Conversations == nil {
		return
	}
	if err := s.deps.Conversations.Record(ctx, &msg); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("session_id", owner).
			Msg("failed to record conversation message")
	}
}

// finalize runs once per session, from the inactivity monitor.
func (s *LiveSessionService) finalize(ls *LiveSession) {
	ctx := ls.ctx
	logger := observability.LoggerFromContext(ctx)
	defer close(ls.finalized)

	ls.scheduler.Stop()
	ls.monitor.Stop()

	now := s.Now().UTC()
	ls.mu.Lock()
	session := ls.session
	title := ls.finalTitle
	if title == "" {
		title = session.Title
	}
	if title == "" {
		title = entities.DefaultLiveTitle(now)
	}
	session.Title = title
	session.TotalFrames = ls.nextIndex
	session.DurationSeconds = now.Sub(ls.StartedAt).Seconds()
	session.CompletedAt = &now
	snapshot := *session
	binding := ls.binding
	ls.mu.Unlock()

	if err := s.deps.Sessions.Update(ctx, &snapshot); err != nil {
		logger.Error().Err(err).Str("session_id", ls.ID).Msg("failed to save finalized live session")
	}
	if _, err := s.deps.Lifecycle.Complete(ctx, ls.ID); err != nil {
		logger.Error().Err(err).Str("session_id", ls.ID).Msg("failed to complete live session")
	}

	payload := map[string]interface{}{
		"title":    title,
		"findings": ls.timeline.Len(),
	}
	summary, exportKey, err := s.summarize(ctx, ls.ID)
	if err != nil {
		logger.Error().Err(err).Str("session_id", ls.ID).Msg("failed to summarize live session")
	}
	if summary != nil {
		payload["high_risk"] = summary.HighRisk
		payload["total_analyzed"] = summary.TotalAnalyzed
	}
	if exportKey != "" {
		payload["export_key"] = exportKey
	}
	s.publish(ctx, ls.ID, entities.SessionEventFinalized, payload)

	s.mu.Lock()
	delete(s.live, ls.ID)
	if binding != nil && !binding.ch.State().IsTerminal() {
		s.detached[ls.ID] = binding
	}
	s.mu.Unlock()

	ls.cancel()
	logger.Info().Str("session_id", ls.ID).Str("title", title).Msg("live session finalized")
}

// summarize stores the summary of a finalized session and then its export
// bundle. Either step is skipped when its collaborators are not wired.
func (s *LiveSessionService) summarize(ctx context.Context, id string) (*entities.SessionSummary, string, error) {
	if s.deps.Analyses == nil || s.deps.Summaries == nil {
		return nil, "", nil
	}
	analyses, err := s.deps.Analyses.ListBySession(ctx, id)
	if err != nil {
		return nil, "", err
	}
	frames, err := s.deps.Frames.ListBySession(ctx, id, 0, 0)
	if err != nil {
		return nil, "", err
	}
	timestamps := make(map[int]int64, len(frames))
	for _, f := range frames {
		timestamps[f.Index] = f.TimestampMS
	}

	summary := BuildSummary(id, analyses, timestamps, s.Now())
	if err := s.deps.Summaries.Upsert(ctx, summary); err != nil {
		return nil, "", err
	}
	if s.deps.Exporter == nil {
		return summary, "", nil
	}
	key, err := s.deps.Exporter.BuildBundle(ctx, id, nil)
	if err != nil {
		return summary, "", err
	}
	return summary, key, nil
}

func (s *LiveSessionService) setStatus(ls *LiveSession, status entities.SessionStatus) {
	ls.mu.Lock()
	ls.session.Status = status
	ls.mu.Unlock()
}

func (s *LiveSessionService) publish(ctx context.Context, sessionID string, eventType entities.SessionEventType, payload map[string]interface{}) {
	if s.deps.Events == nil {
		return
	}
	event := entities.NewSessionEvent(sessionID, eventType, payload)
	for _, channel := range []string{providers.GetSessionChannel(sessionID), providers.EventChannelSessionUpdates} {
		if err := s.deps.Events.Publish(ctx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Str("session_id", sessionID).
				Str("event_type", string(eventType)).
				Msg("failed to publish live event")
		}
	}
}
