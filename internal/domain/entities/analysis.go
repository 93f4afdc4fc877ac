package entities

import (
	"strings"
	"time"
)

// RiskLevel is the clinical risk attached to an analysis
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// ParseRiskLevel normalizes free-form model text ("High", "moderate risk") into a RiskLevel.
func ParseRiskLevel(s string) RiskLevel {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(v, "high"):
		return RiskHigh
	case strings.HasPrefix(v, "medium"), strings.HasPrefix(v, "moderate"):
		return RiskMedium
	case strings.HasPrefix(v, "low"):
		return RiskLow
	}
	return RiskUnknown
}

// Rank orders risk levels for ranking; higher is more severe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// DefaultConfidence is used when the backend does not report a confidence.
func (r RiskLevel) DefaultConfidence() float64 {
	switch r {
	case RiskHigh:
		return 0.85
	case RiskMedium:
		return 0.80
	}
	return 0.75
}

// AnalysisResult is the single analysis of one frame
type AnalysisResult struct {
	ID          string    `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	FrameID     string    `json:"frame_id" db:"frame_id"`
	FrameIndex  int       `json:"frame_index" db:"frame_index"`
	ModelID     string    `json:"model_id" db:"model_id"`
	InferenceMS int64     `json:"inference_ms" db:"inference_ms"`
	Finding     string    `json:"finding" db:"finding"`
	Location    string    `json:"location" db:"location"`
	RiskLevel   RiskLevel `json:"risk_level" db:"risk_level"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Features    []string  `json:"features" db:"features"`
	RawOutput   string    `json:"raw_output" db:"raw_output"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// KnownFeatures are the visual features recognised in finding text.
var KnownFeatures = []string{"erythema", "ulcer", "polyp", "inflammation", "bleeding", "lesion"}

// DetectFeatures returns the known features mentioned in text, in KnownFeatures order.
func DetectFeatures(text string) []string {
	lower := strings.ToLower(text)
	features := []string{}
	for _, f := range KnownFeatures {
		if strings.Contains(lower, f) {
			features = append(features, f)
		}
	}
	return features
}
