package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// AnalysisRepository defines the interface for analysis result data operations
type AnalysisRepository interface {
	// Upsert writes the analysis for a frame, replacing any previous one
	Upsert(ctx context.Context, result *entities.AnalysisResult) error

	// GetByFrameIDs returns the analyses of the given frames
	GetByFrameIDs(ctx context.Context, frameIDs []string) ([]*entities.AnalysisResult, error)

	// ListBySession returns all analyses of a session ordered by frame index
	ListBySession(ctx context.Context, sessionID string) ([]*entities.AnalysisResult, error)
}
