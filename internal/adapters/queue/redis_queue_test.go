package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/redis"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

func newTestQueue(t *testing.T) providers.TaskQueue {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisTaskQueue(redisclient.NewFromClient(rdb), "test:tasks")
}

func TestRedisTaskQueue_FIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, &entities.QueueTask{SessionID: "s-1", Kind: entities.QueueTaskKindProcessSession})
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, &entities.QueueTask{SessionID: "s-2", Kind: entities.QueueTaskKindProcessSession})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, got.ID)
	assert.Equal(t, "s-1", got.SessionID)

	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.ID)
}

func TestRedisTaskQueue_PollAndReport(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &entities.QueueTask{SessionID: "s-1", Kind: entities.QueueTaskKindProcessSession})
	require.NoError(t, err)

	state, err := q.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusPending, state.Status)
	assert.Equal(t, "s-1", state.SessionID)

	require.NoError(t, q.Report(ctx, &entities.QueueTaskState{
		TaskID:    id,
		SessionID: "s-1",
		Status:    entities.TaskStatusRunning,
		Progress:  45,
	}))

	state, err = q.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.TaskStatusRunning, state.Status)
	assert.Equal(t, 45, state.Progress)
}

func TestRedisTaskQueue_PollUnknown(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Poll(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}
