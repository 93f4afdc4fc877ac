package entities

import (
	"time"

	"github.com/google/uuid"
)

// SessionEventType represents the type of session event
type SessionEventType string

const (
	SessionEventProgress     SessionEventType = "progress"
	SessionEventStatus       SessionEventType = "status"
	SessionEventFinding      SessionEventType = "finding"
	SessionEventFinalized    SessionEventType = "finalized"
	SessionEventChannelState SessionEventType = "channel_state"
)

// SessionEvent is a real-time notification about a session
type SessionEvent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      SessionEventType       `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Status    SessionStatus          `json:"status,omitempty"`
	Progress  int                    `json:"progress"`
	Stage     Stage                  `json:"stage,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewSessionEvent creates a new session event
func NewSessionEvent(sessionID string, eventType SessionEventType, payload map[string]interface{}) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
