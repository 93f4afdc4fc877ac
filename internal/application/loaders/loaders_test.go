package loaders

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

type fakeAnalyses struct {
	mu    sync.Mutex
	calls [][]string
	byID  map[string]*entities.AnalysisResult
	err   error
}

func (f *fakeAnalyses) Upsert(context.Context, *entities.AnalysisResult) error { return nil }

func (f *fakeAnalyses) GetByFrameIDs(_ context.Context, ids []string) ([]*entities.AnalysisResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{}, ids...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*entities.AnalysisResult
	for _, id := range ids {
		if a, ok := f.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAnalyses) ListBySession(context.Context, string) ([]*entities.AnalysisResult, error) {
	return nil, nil
}

func TestAnalysisByFrame_BatchesLookups(t *testing.T) {
	repo := &fakeAnalyses{byID: map[string]*entities.AnalysisResult{
		"f1": {FrameID: "f1", Finding: "polyp"},
		"f3": {FrameID: "f3", Finding: "ulcer"},
	}}
	l := NewLoaders(repo)

	got, errs := l.AnalysisByFrame.LoadMany(context.Background(), []string{"f1", "f2", "f3"})()

	require.Empty(t, errs)
	require.Len(t, got, 3)
	assert.Equal(t, "polyp", got[0].Finding)
	assert.Nil(t, got[1])
	assert.Equal(t, "ulcer", got[2].Finding)
	assert.Len(t, repo.calls, 1)
}

func TestAnalysisByFrame_PropagatesErrors(t *testing.T) {
	repo := &fakeAnalyses{err: errors.New("db down")}
	l := NewLoaders(repo)

	_, err := l.AnalysisByFrame.Load(context.Background(), "f1")()

	assert.EqualError(t, err, "db down")
}

func TestWithLoaders(t *testing.T) {
	assert.Nil(t, For(context.Background()))

	l := NewLoaders(&fakeAnalyses{})
	ctx := WithLoaders(context.Background(), l)
	assert.Same(t, l, For(ctx))
}
