package entities

import (
	"fmt"
	"time"
)

// Frame is one sampled still image from a session's source video
type Frame struct {
	ID          string    `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	Index       int       `json:"frame_index" db:"frame_index"`
	TimestampMS int64     `json:"timestamp_ms" db:"timestamp_ms"`
	IsKeyframe  bool      `json:"is_keyframe" db:"is_keyframe"`
	Analyzed    bool      `json:"analyzed" db:"analyzed"`
	ImageKey    string    `json:"image_key" db:"image_key"`
	MotionScore float64   `json:"motion_score" db:"motion_score"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Timestamp renders the capture offset as HH:MM:SS.mmm
func (f *Frame) Timestamp() string {
	return FormatTimestamp(f.TimestampMS)
}

// CandidateFrame is a frame offered by extraction or a live source before sampling
type CandidateFrame struct {
	Index       int     `json:"index"`
	TimestampMS int64   `json:"timestamp_ms"`
	ImageRef    string  `json:"image_ref"`
	MotionScore float64 `json:"motion_score"`
	IsKeyframe  bool    `json:"is_keyframe"`
}

// FormatTimestamp renders a millisecond offset as HH:MM:SS.mmm
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

// FrameImageKey is the object store key for a session's frame image.
func FrameImageKey(sessionID string, index int) string {
	return fmt.Sprintf("sessions/%s/frames/frame_%06d.jpg", sessionID, index)
}
