package repositories

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// ProcessingTaskRepository defines the interface for processing task records
type ProcessingTaskRepository interface {
	Create(ctx context.Context, task *entities.ProcessingTask) error
	Update(ctx context.Context, task *entities.ProcessingTask) error
	ListBySession(ctx context.Context, sessionID string) ([]*entities.ProcessingTask, error)
}
