package entities

import (
	"strings"
	"time"
)

// Finding is a validated, structured observation derived from model text
type Finding struct {
	Finding         string `json:"finding"`
	Location        string `json:"location"`
	RiskLevel       string `json:"risk_level"`
	SuggestedAction string `json:"suggested_action"`

	// Structured is false when the finding came from the loose fallback cleaner.
	Structured bool `json:"structured"`
}

// Risk returns the normalized risk level.
func (f Finding) Risk() RiskLevel {
	return ParseRiskLevel(f.RiskLevel)
}

// Text renders the finding in the labeled form it was parsed from.
func (f Finding) Text() string {
	if !f.Structured {
		return f.Finding
	}
	var b strings.Builder
	b.WriteString("Finding: ")
	b.WriteString(f.Finding)
	b.WriteString("\nLocation: ")
	b.WriteString(f.Location)
	b.WriteString("\nRisk Level: ")
	b.WriteString(f.RiskLevel)
	b.WriteString("\nSuggested Action: ")
	b.WriteString(f.SuggestedAction)
	return b.String()
}

// TimelineEntry is one finding on a live session's rolling timeline
type TimelineEntry struct {
	At          time.Time `json:"at"`
	FrameIndex  int       `json:"frame_index"`
	TimestampMS int64     `json:"timestamp_ms"`
	Finding     Finding   `json:"finding"`
}

// Line renders the entry as "[HH:MM:SS] finding".
func (e TimelineEntry) Line() string {
	return "[" + e.At.Format("15:04:05") + "] " + e.Finding.Finding
}
