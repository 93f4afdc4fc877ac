package providers

import (
	"context"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// TaskQueue is the work queue feeding batch pipeline workers
type TaskQueue interface {
	// Enqueue places a task on the queue and returns its id
	Enqueue(ctx context.Context, task *entities.QueueTask) (string, error)

	// Dequeue blocks up to timeout for the next task; nil when none arrived
	Dequeue(ctx context.Context, timeout time.Duration) (*entities.QueueTask, error)

	// Poll returns the last reported state of a task
	Poll(ctx context.Context, taskID string) (*entities.QueueTaskState, error)

	// Report records a task's state for pollers
	Report(ctx context.Context, state *entities.QueueTaskState) error
}
