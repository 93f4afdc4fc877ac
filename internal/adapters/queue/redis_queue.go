// Package queue provides the Redis-backed work queue feeding pipeline workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// stateTTL bounds how long finished task states stay pollable.
const stateTTL = 24 * time.Hour

// RedisTaskQueue is a FIFO list queue with a per-task state record
type RedisTaskQueue struct {
	client *redisclient.Client
	name   string
}

// NewRedisTaskQueue creates a queue stored under the given list key
func NewRedisTaskQueue(client *redisclient.Client, name string) providers.TaskQueue {
	return &RedisTaskQueue{client: client, name: name}
}

func (q *RedisTaskQueue) stateKey(taskID string) string {
	return q.name + ":state:" + taskID
}

// Enqueue pushes the task and records it as pending
func (q *RedisTaskQueue) Enqueue(ctx context.Context, task *entities.QueueTask) (string, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	state, err := json.Marshal(&entities.QueueTaskState{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Status:    entities.TaskStatusPending,
		UpdatedAt: task.EnqueuedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task state: %w", err)
	}

	pipe := q.client.Client().TxPipeline()
	pipe.Set(ctx, q.stateKey(task.ID), state, stateTTL)
	pipe.LPush(ctx, q.name, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", apperrors.NewExternalError("failed to enqueue task", err)
	}
	return task.ID, nil
}

// Dequeue pops the oldest task, waiting up to timeout
func (q *RedisTaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*entities.QueueTask, error) {
	res, err := q.client.Client().BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewExternalError("failed to dequeue task", err)
	}

	// BRPOP returns [key, value]
	var task entities.QueueTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, apperrors.NewDecodeError("malformed queue task", err)
	}
	return &task, nil
}

// Poll returns the last reported state of a task
func (q *RedisTaskQueue) Poll(ctx context.Context, taskID string) (*entities.QueueTaskState, error) {
	data, err := q.client.Client().Get(ctx, q.stateKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("task %s not found", taskID))
	}
	if err != nil {
		return nil, apperrors.NewExternalError("failed to poll task", err)
	}

	var state entities.QueueTaskState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.NewDecodeError("malformed task state", err)
	}
	return &state, nil
}

// Report stores the task state
func (q *RedisTaskQueue) Report(ctx context.Context, state *entities.QueueTaskState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal task state: %w", err)
	}
	if err := q.client.Client().Set(ctx, q.stateKey(state.TaskID), data, stateTTL).Err(); err != nil {
		return apperrors.NewExternalError("failed to report task state", err)
	}
	return nil
}
