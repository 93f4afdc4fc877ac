package services

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
)

// TaskProcessor handles one dequeued task.
type TaskProcessor interface {
	Process(ctx context.Context, task *entities.QueueTask) error
}

// TaskWorkerPool consumes the work queue with a fixed number of workers
type TaskWorkerPool struct {
	queue     providers.TaskQueue
	processor TaskProcessor
	workers   int

	// PollTimeout bounds each blocking dequeue so workers notice shutdown.
	PollTimeout time.Duration
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// NewTaskWorkerPool creates a new worker pool
func NewTaskWorkerPool(queue providers.TaskQueue, processor TaskProcessor, workers int) *TaskWorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &TaskWorkerPool{
		queue:        queue,
		processor:    processor,
		workers:      workers,
		PollTimeout:  5 * time.Second,
		ErrorBackoff: time.Second,
	}
}

// Run blocks until ctx is cancelled and every worker has finished its
// current task.
func (p *TaskWorkerPool) Run(ctx context.Context) {
	logger := observability.LoggerFromContext(ctx)
	logger.Info().Int("workers", p.workers).Msg("starting task workers")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(ctx, id)
		}(i)
	}
	wg.Wait()

	logger.Info().Msg("task workers stopped")
}

func (p *TaskWorkerPool) work(ctx context.Context, id int) {
	logger := observability.LoggerFromContext(ctx).With().Int("worker", id).Logger()

	for ctx.Err() == nil {
		task, err := p.queue.Dequeue(ctx, p.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("failed to dequeue task")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.ErrorBackoff):
			}
			continue
		}
		if task == nil {
			continue
		}

		logger.Info().Str("task_id", task.ID).Str("session_id", task.SessionID).Msg("processing task")
		if err := p.processor.Process(ctx, task); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Str("session_id", task.SessionID).Msg("task failed")
			continue
		}
		logger.Info().Str("task_id", task.ID).Str("session_id", task.SessionID).Msg("task finished")
	}
}
