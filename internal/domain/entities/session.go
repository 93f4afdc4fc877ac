package entities

import (
	"time"
)

// SessionKind distinguishes live capture from uploaded recordings
type SessionKind string

const (
	SessionKindLive     SessionKind = "live"
	SessionKindRecorded SessionKind = "recorded"
)

// IsValid checks if the kind is one of the defined constants.
func (k SessionKind) IsValid() bool {
	return k == SessionKindLive || k == SessionKindRecorded
}

// SessionStatus is the processing status of a procedure session
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusIdle       SessionStatus = "idle"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:    {SessionStatusProcessing, SessionStatusActive, SessionStatusFailed},
	SessionStatusProcessing: {SessionStatusCompleted, SessionStatusFailed},
	SessionStatusActive:     {SessionStatusIdle, SessionStatusCompleted, SessionStatusFailed},
	SessionStatusIdle:       {SessionStatusActive, SessionStatusCompleted, SessionStatusFailed},
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may legally move to s.
func (s SessionStatus) Predecessors() []SessionStatus {
	var out []SessionStatus
	for from, tos := range sessionTransitions {
		for _, to := range tos {
			if to == s {
				out = append(out, from)
			}
		}
	}
	return out
}

// ProcedureSession is one procedure's end-to-end processing unit
type ProcedureSession struct {
	ID              string        `json:"id" db:"id"`
	Kind            SessionKind   `json:"kind" db:"kind"`
	Title           string        `json:"title" db:"title"`
	ProcedureType   string        `json:"procedure_type" db:"procedure_type"`
	Status          SessionStatus `json:"status" db:"status"`
	Progress        int           `json:"progress" db:"progress"`
	ErrorMessage    string        `json:"error_message,omitempty" db:"error_message"`
	SourceKey       string        `json:"source_key,omitempty" db:"source_key"`
	SourceFilename  string        `json:"source_filename,omitempty" db:"source_filename"`
	ExportKey       string        `json:"export_key,omitempty" db:"export_key"`
	DurationSeconds float64       `json:"duration_seconds" db:"duration_seconds"`
	TotalFrames     int           `json:"total_frames" db:"total_frames"`
	StartedAt       *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}

// DefaultLiveTitle is the title given to live sessions finalized without one.
func DefaultLiveTitle(at time.Time) string {
	return "Live Session " + at.Format("2006-01-02 15:04")
}
