package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// SummaryRepository defines the interface for session summaries
type SummaryRepository interface {
	Upsert(ctx context.Context, summary *entities.SessionSummary) error
	GetBySession(ctx context.Context, sessionID string) (*entities.SessionSummary, error)
}
