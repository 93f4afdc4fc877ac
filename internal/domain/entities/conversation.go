package entities

import "time"

// MessageRole identifies the speaker of a conversation message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// IsValid checks if the role is one of the defined constants.
func (r MessageRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationMessage is one turn of the operator/assistant conversation
type ConversationMessage struct {
	ID               string      `json:"id" db:"id"`
	SessionID        string      `json:"session_id" db:"session_id"`
	Role             MessageRole `json:"role" db:"role"`
	Content          string      `json:"content" db:"content"`
	FrameID          *string     `json:"frame_id,omitempty" db:"frame_id"`
	VideoTimestampMS *int64      `json:"video_timestamp_ms,omitempty" db:"video_timestamp_ms"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}
