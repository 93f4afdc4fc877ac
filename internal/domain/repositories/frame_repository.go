package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// FrameRepository defines the interface for frame data operations
type FrameRepository interface {
	// CreateBatch inserts frames, ignoring indexes the session already has
	CreateBatch(ctx context.Context, frames []*entities.Frame) error

	// ListBySession returns frames ordered by index
	ListBySession(ctx context.Context, sessionID string, offset, limit int) ([]*entities.Frame, error)

	// CountBySession returns the total number of frames of a session
	CountBySession(ctx context.Context, sessionID string) (int, error)

	// ListUnanalyzed returns frames still awaiting analysis, ordered by index
	ListUnanalyzed(ctx context.Context, sessionID string) ([]*entities.Frame, error)

	// MarkAnalyzed sets the analyzed flag
	MarkAnalyzed(ctx context.Context, frameID string) error
}
