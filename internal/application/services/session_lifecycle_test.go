package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zatekoja/procedurecopilot/backend/internal/application/services"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

func seedSession(t testing.TB, repo *memSessions, id string, kind entities.SessionKind, status entities.SessionStatus) {
	t.Helper()
	err := repo.Create(context.Background(), &entities.ProcedureSession{
		ID:        id,
		Kind:      kind,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestSessionLifecycle_RecordedHappyPath(t *testing.T) {
	ctx := context.Background()
	repo := newMemSessions()
	bus := &recordingBus{}
	lifecycle := services.NewSessionLifecycle(repo, bus)
	seedSession(t, repo, "s-1", entities.SessionKindRecorded, entities.SessionStatusPending)

	ok, err := lifecycle.StartProcessing(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, ok)

	progress, err := lifecycle.ReportStageProgress(ctx, "s-1", entities.StageAnalysis, 50)
	require.NoError(t, err)
	assert.Equal(t, 55, progress)

	ok, err = lifecycle.Complete(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, ok)

	s, _ := repo.GetByID(ctx, "s-1")
	assert.Equal(t, entities.SessionStatusCompleted, s.Status)
	assert.Equal(t, 100, s.Progress)
	assert.NotNil(t, s.CompletedAt)
	assert.Len(t, bus.ofType(entities.SessionEventStatus), 2)
}

func TestSessionLifecycle_TerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	repo := newMemSessions()
	lifecycle := services.NewSessionLifecycle(repo, nil)
	seedSession(t, repo, "s-1", entities.SessionKindRecorded, entities.SessionStatusProcessing)

	ok, err := lifecycle.Fail(ctx, "s-1", "boom")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lifecycle.Complete(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = lifecycle.Abort(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, ok)

	s, _ := repo.GetByID(ctx, "s-1")
	assert.Equal(t, entities.SessionStatusFailed, s.Status)
	assert.Equal(t, "boom", s.ErrorMessage)
}

func TestSessionLifecycle_ProgressAfterAbortIsRejected(t *testing.T) {
	ctx := context.Background()
	repo := newMemSessions()
	lifecycle := services.NewSessionLifecycle(repo, nil)
	seedSession(t, repo, "s-1", entities.SessionKindRecorded, entities.SessionStatusProcessing)

	_, err := lifecycle.ReportStageProgress(ctx, "s-1", entities.StageExtraction, 100)
	require.NoError(t, err)

	ok, err := lifecycle.Abort(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = lifecycle.ReportStageProgress(ctx, "s-1", entities.StageAnalysis, 10)
	assert.True(t, errors.Is(err, services.ErrSessionNotProcessing))

	s, _ := repo.GetByID(ctx, "s-1")
	assert.Equal(t, 30, s.Progress)
}

func TestSessionLifecycle_LiveTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newMemSessions()
	lifecycle := services.NewSessionLifecycle(repo, nil)
	seedSession(t, repo, "live-1", entities.SessionKindLive, entities.SessionStatusPending)

	for _, step := range []func(context.Context, string) (bool, error){
		lifecycle.Activate,
		lifecycle.MarkIdle,
		lifecycle.Activate,
		lifecycle.Complete,
	} {
		ok, err := step(ctx, "live-1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := lifecycle.Activate(ctx, "live-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionLifecycle_ProgressIsMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		repo := newMemSessions()
		lifecycle := services.NewSessionLifecycle(repo, nil)
		seedSession(t, repo, "s-1", entities.SessionKindRecorded, entities.SessionStatusProcessing)

		stages := entities.Stages()
		reports := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) [2]int {
			return [2]int{rapid.IntRange(0, len(stages)-1).Draw(t, "stage"), rapid.IntRange(-20, 120).Draw(t, "percent")}
		}), 1, 40).Draw(rt, "reports")

		last := 0
		for _, r := range reports {
			progress, err := lifecycle.ReportStageProgress(ctx, "s-1", stages[r[0]], r[1])
			if err != nil {
				rt.Fatalf("report failed: %v", err)
			}
			if progress < last {
				rt.Fatalf("progress went from %d to %d", last, progress)
			}
			if progress < 0 || progress > 100 {
				rt.Fatalf("progress %d out of range", progress)
			}
			last = progress
		}
	})
}
