package services_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// memSessions mirrors the database adapter: Update never touches status or
// progress, TransitionStatus and AdvanceProgress are compare-and-set.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*entities.ProcedureSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*entities.ProcedureSession)}
}

func (r *memSessions) Create(_ context.Context, s *entities.ProcedureSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return apperrors.NewConflictError("session exists")
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessions) GetByID(_ context.Context, id string) (*entities.ProcedureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("session with id %s not found", id))
	}
	cp := *s
	return &cp, nil
}

func (r *memSessions) List(_ context.Context, filter repositories.SessionFilter) ([]*entities.ProcedureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.ProcedureSession
	for _, s := range r.sessions {
		if filter.Kind != "" && s.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.ProcedureType != "" && s.ProcedureType != filter.ProcedureType {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return []*entities.ProcedureSession{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memSessions) Update(_ context.Context, s *entities.ProcedureSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.ID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("session with id %s not found", s.ID))
	}
	cur.Title = s.Title
	cur.SourceKey = s.SourceKey
	cur.SourceFilename = s.SourceFilename
	cur.ExportKey = s.ExportKey
	cur.DurationSeconds = s.DurationSeconds
	cur.TotalFrames = s.TotalFrames
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memSessions) TransitionStatus(_ context.Context, id string, from []entities.SessionStatus, to entities.SessionStatus, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, f := range from {
		if cur.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	now := time.Now().UTC()
	cur.Status = to
	cur.ErrorMessage = errorMessage
	switch {
	case to == entities.SessionStatusProcessing || to == entities.SessionStatusActive:
		if cur.StartedAt == nil {
			cur.StartedAt = &now
		}
	case to.IsTerminal():
		cur.CompletedAt = &now
		if to == entities.SessionStatusCompleted {
			cur.Progress = 100
		}
	}
	return true, nil
}

func (r *memSessions) AdvanceProgress(_ context.Context, id string, status entities.SessionStatus, value int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[id]
	if !ok || cur.Status != status {
		return 0, apperrors.NewConflictError(fmt.Sprintf("session %s is not %s", id, status))
	}
	if value > cur.Progress {
		cur.Progress = value
	}
	return cur.Progress, nil
}

// setStatus forces a status, as an operator or another process would.
func (r *memSessions) setStatus(id string, status entities.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id].Status = status
}

type memFrames struct {
	mu     sync.Mutex
	frames []*entities.Frame
}

func (r *memFrames) CreateBatch(_ context.Context, frames []*entities.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range frames {
		cp := *f
		r.frames = append(r.frames, &cp)
	}
	return nil
}

func (r *memFrames) bySession(sessionID string) []*entities.Frame {
	var out []*entities.Frame
	for _, f := range r.frames {
		if f.SessionID == sessionID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (r *memFrames) ListBySession(_ context.Context, sessionID string, offset, limit int) ([]*entities.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.bySession(sessionID)
	if offset >= len(out) {
		return []*entities.Frame{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memFrames) CountBySession(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession(sessionID)), nil
}

func (r *memFrames) ListUnanalyzed(_ context.Context, sessionID string) ([]*entities.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.Frame
	for _, f := range r.bySession(sessionID) {
		if !f.Analyzed {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memFrames) MarkAnalyzed(_ context.Context, frameID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f.ID == frameID {
			f.Analyzed = true
			return nil
		}
	}
	return apperrors.NewNotFoundError("frame not found")
}

type memAnalyses struct {
	mu      sync.Mutex
	byFrame map[string]*entities.AnalysisResult
	upserts int
}

func newMemAnalyses() *memAnalyses {
	return &memAnalyses{byFrame: make(map[string]*entities.AnalysisResult)}
}

func (r *memAnalyses) Upsert(_ context.Context, a *entities.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.byFrame[fmt.Sprintf("%s/%d", a.SessionID, a.FrameIndex)] = &cp
	r.upserts++
	return nil
}

func (r *memAnalyses) GetByFrameIDs(_ context.Context, frameIDs []string) ([]*entities.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(frameIDs))
	for _, id := range frameIDs {
		want[id] = true
	}
	var out []*entities.AnalysisResult
	for _, a := range r.byFrame {
		if want[a.FrameID] {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memAnalyses) ListBySession(_ context.Context, sessionID string) ([]*entities.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.AnalysisResult
	for _, a := range r.byFrame {
		if a.SessionID == sessionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out, nil
}

type memSummaries struct {
	mu        sync.Mutex
	summaries map[string]*entities.SessionSummary
}

func newMemSummaries() *memSummaries {
	return &memSummaries{summaries: make(map[string]*entities.SessionSummary)}
}

func (r *memSummaries) Upsert(_ context.Context, s *entities.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.summaries[s.SessionID] = &cp
	return nil
}

func (r *memSummaries) GetBySession(_ context.Context, sessionID string) (*entities.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError("summary not found")
	}
	cp := *s
	return &cp, nil
}

type memTasks struct {
	mu    sync.Mutex
	tasks []*entities.ProcessingTask
}

func (r *memTasks) Create(_ context.Context, t *entities.ProcessingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks = append(r.tasks, &cp)
	return nil
}

func (r *memTasks) Update(_ context.Context, t *entities.ProcessingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.tasks {
		if cur.ID == t.ID {
			cp := *t
			r.tasks[i] = &cp
			return nil
		}
	}
	return apperrors.NewNotFoundError("task not found")
}

func (r *memTasks) ListBySession(_ context.Context, sessionID string) ([]*entities.ProcessingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.ProcessingTask
	for _, t := range r.tasks {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memConversations struct {
	mu       sync.Mutex
	messages []*entities.ConversationMessage
}

func (r *memConversations) Append(_ context.Context, m *entities.ConversationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	r.messages = append(r.messages, &cp)
	return nil
}

func (r *memConversations) ListBySession(_ context.Context, sessionID string) ([]*entities.ConversationMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entities.ConversationMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memConversations) LastN(ctx context.Context, sessionID string, n int) ([]*entities.ConversationMessage, error) {
	all, _ := r.ListBySession(ctx, sessionID)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// fakeBackend answers every frame with the same structured finding unless
// fail says otherwise.
type fakeBackend struct {
	calls atomic.Int32
	delay time.Duration
	raw   string
	fail  func(imageRef string) error
}

func (b *fakeBackend) Analyze(ctx context.Context, imageRef string) (*providers.AnalysisOutput, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.fail != nil {
		if err := b.fail(imageRef); err != nil {
			return nil, err
		}
	}
	raw := b.raw
	if raw == "" {
		raw = "Finding: Small polyp\nLocation: Sigmoid colon\nRisk Level: Medium\nSuggested Next Step: Consider biopsy"
	}
	return &providers.AnalysisOutput{RawText: raw}, nil
}

func (b *fakeBackend) ModelID() string { return "fake-model" }

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Put(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("object not found: " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) DownloadURL(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	return "http://downloads.test/" + key, expires, nil
}

func (s *memStore) object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

type fakeQueue struct {
	mu      sync.Mutex
	tasks   chan *entities.QueueTask
	states  map[string]*entities.QueueTaskState
	reports []entities.QueueTaskState
	failErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		tasks:  make(chan *entities.QueueTask, 16),
		states: make(map[string]*entities.QueueTaskState),
	}
}

func (q *fakeQueue) Enqueue(_ context.Context, task *entities.QueueTask) (string, error) {
	if q.failErr != nil {
		return "", q.failErr
	}
	cp := *task
	cp.ID = uuid.NewString()
	q.mu.Lock()
	q.states[cp.ID] = &entities.QueueTaskState{TaskID: cp.ID, SessionID: cp.SessionID, Status: entities.TaskStatusPending}
	q.mu.Unlock()
	q.tasks <- &cp
	return cp.ID, nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*entities.QueueTask, error) {
	select {
	case t := <-q.tasks:
		return t, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Poll(_ context.Context, taskID string) (*entities.QueueTaskState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.states[taskID]
	if !ok {
		return nil, apperrors.NewNotFoundError("task not found")
	}
	cp := *s
	return &cp, nil
}

func (q *fakeQueue) Report(_ context.Context, state *entities.QueueTaskState) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *state
	q.states[state.TaskID] = &cp
	q.reports = append(q.reports, cp)
	return nil
}

func (q *fakeQueue) lastReport() entities.QueueTaskState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reports) == 0 {
		return entities.QueueTaskState{}
	}
	return q.reports[len(q.reports)-1]
}

type fakeExtractor struct {
	result *providers.ExtractionResult
	err    error
	calls  atomic.Int32
}

func (e *fakeExtractor) Extract(_ context.Context, _ string, _ providers.ExtractionConfig) (*providers.ExtractionResult, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// keyframes returns n keyframe candidates one second apart.
func keyframes(n int) *providers.ExtractionResult {
	result := &providers.ExtractionResult{DurationSeconds: float64(n), SourceFrames: n * 30}
	for i := 0; i < n; i++ {
		result.Candidates = append(result.Candidates, entities.CandidateFrame{
			Index:       i,
			TimestampMS: int64(i) * 1000,
			IsKeyframe:  true,
			MotionScore: 0.5,
		})
	}
	return result
}

type recordingBus struct {
	mu     sync.Mutex
	events []*entities.SessionEvent
}

func (b *recordingBus) Publish(_ context.Context, channel string, event *entities.SessionEvent) error {
	if channel == providers.EventChannelSessionUpdates {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan *entities.SessionEvent, error) {
	return make(chan *entities.SessionEvent), nil
}

func (b *recordingBus) Unsubscribe(context.Context, string) error { return nil }

func (b *recordingBus) Close() error { return nil }

func (b *recordingBus) ofType(t entities.SessionEventType) []*entities.SessionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*entities.SessionEvent
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]int
	err     error
}

func (i *fakeIndex) IndexAnalyses(_ context.Context, session *entities.ProcedureSession, analyses []*entities.AnalysisResult) error {
	if i.err != nil {
		return i.err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.indexed == nil {
		i.indexed = make(map[string]int)
	}
	i.indexed[session.ID] = len(analyses)
	return nil
}

func (i *fakeIndex) Search(context.Context, providers.FindingSearchParams) ([]providers.IndexedFinding, error) {
	return nil, nil
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(bytes.Fields([]byte(text)))
}
