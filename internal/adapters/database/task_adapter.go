package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

const tasksTable = "processing_tasks"

// ProcessingTaskAdapter implements ProcessingTaskRepository
type ProcessingTaskAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewProcessingTaskAdapter creates a new processing task adapter
func NewProcessingTaskAdapter(client *postgres.Client) repositories.ProcessingTaskRepository {
	return &ProcessingTaskAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create creates a task record
func (a *ProcessingTaskAdapter) Create(ctx context.Context, task *entities.ProcessingTask) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	query, args, err := a.db.Insert(tasksTable).Rows(goqu.Record{
		"id":               task.ID,
		"session_id":       task.SessionID,
		"queue_task_id":    task.QueueTaskID,
		"task_type":        task.Type,
		"status":           task.Status,
		"progress_current": task.ProgressCurrent,
		"progress_total":   task.ProgressTotal,
		"error_message":    nullString(task.ErrorMessage),
		"started_at":       nullTime(task.StartedAt),
		"completed_at":     nullTime(task.CompletedAt),
		"created_at":       task.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create task", err)
	}
	return nil
}

// Update persists status, progress and timing of a task
func (a *ProcessingTaskAdapter) Update(ctx context.Context, task *entities.ProcessingTask) error {
	query, args, err := a.db.Update(tasksTable).Set(goqu.Record{
		"status":           task.Status,
		"progress_current": task.ProgressCurrent,
		"progress_total":   task.ProgressTotal,
		"error_message":    nullString(task.ErrorMessage),
		"started_at":       nullTime(task.StartedAt),
		"completed_at":     nullTime(task.CompletedAt),
	}).Where(goqu.Ex{"id": task.ID}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update task", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("task with id %s not found", task.ID))
	}
	return nil
}

// ListBySession returns the tasks of a session in creation order
func (a *ProcessingTaskAdapter) ListBySession(ctx context.Context, sessionID string) ([]*entities.ProcessingTask, error) {
	query, args, err := a.db.Select(
		"id", "session_id", "queue_task_id", "task_type", "status", "progress_current",
		"progress_total", "error_message", "started_at", "completed_at", "created_at",
	).From(tasksTable).
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list tasks", err)
	}
	defer rows.Close()

	tasks := []*entities.ProcessingTask{}
	for rows.Next() {
		t := &entities.ProcessingTask{}
		var errorMessage sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&t.ID,
			&t.SessionID,
			&t.QueueTaskID,
			&t.Type,
			&t.Status,
			&t.ProgressCurrent,
			&t.ProgressTotal,
			&errorMessage,
			&startedAt,
			&completedAt,
			&t.CreatedAt,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan task", err)
		}
		t.ErrorMessage = errorMessage.String
		t.StartedAt = timePtr(startedAt)
		t.CompletedAt = timePtr(completedAt)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("error iterating tasks", err)
	}
	return tasks, nil
}
