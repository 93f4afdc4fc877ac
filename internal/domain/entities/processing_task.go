package entities

import "time"

// TaskStatus is the state of one unit of asynchronous pipeline work
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ProcessingTask records one pipeline stage run for a session
type ProcessingTask struct {
	ID              string     `json:"id" db:"id"`
	SessionID       string     `json:"session_id" db:"session_id"`
	QueueTaskID     string     `json:"queue_task_id" db:"queue_task_id"`
	Type            Stage      `json:"task_type" db:"task_type"`
	Status          TaskStatus `json:"status" db:"status"`
	ProgressCurrent int        `json:"progress_current" db:"progress_current"`
	ProgressTotal   int        `json:"progress_total" db:"progress_total"`
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// QueueTask is the message placed on the work queue for a recorded session
type QueueTask struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueTaskKindProcessSession runs the full batch pipeline for a session.
const QueueTaskKindProcessSession = "process_session"

// QueueTaskState is what poll returns for a queued task
type QueueTaskState struct {
	TaskID    string     `json:"task_id"`
	SessionID string     `json:"session_id"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}
