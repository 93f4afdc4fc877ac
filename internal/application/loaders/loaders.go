// Package loaders batches per-request lookups of related records.
package loaders

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// Loaders holds the request-scoped loaders
type Loaders struct {
	// AnalysisByFrame resolves a frame id to its analysis; frames without one
	// resolve to nil.
	AnalysisByFrame *dataloader.Loader[string, *entities.AnalysisResult]
}

// NewLoaders creates a new instance of Loaders
func NewLoaders(analyses repositories.AnalysisRepository) *Loaders {
	return &Loaders{
		AnalysisByFrame: dataloader.NewBatchedLoader(func(ctx context.Context, frameIDs []string) []*dataloader.Result[*entities.AnalysisResult] {
			results := make([]*dataloader.Result[*entities.AnalysisResult], len(frameIDs))
			found, err := analyses.GetByFrameIDs(ctx, frameIDs)

			byFrame := make(map[string]*entities.AnalysisResult, len(found))
			if err == nil {
				for _, a := range found {
					byFrame[a.FrameID] = a
				}
			}

			for i, id := range frameIDs {
				if err != nil {
					results[i] = &dataloader.Result[*entities.AnalysisResult]{Error: err}
				} else {
					results[i] = &dataloader.Result[*entities.AnalysisResult]{Data: byFrame[id]}
				}
			}
			return results
		}, dataloader.WithCache[string, *entities.AnalysisResult](&dataloader.NoCache[string, *entities.AnalysisResult]{})),
	}
}

// For returns the loaders attached to ctx, or nil.
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}
