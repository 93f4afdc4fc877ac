package providers

import (
	"context"
)

// AnalysisOutput is what the vision-language backend returns for one image
type AnalysisOutput struct {
	FindingText string   `json:"finding_text"`
	Location    string   `json:"location"`
	RiskLevel   string   `json:"risk_level"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Features    []string `json:"features"`
	RawText     string   `json:"raw_text"`
}

// AnalysisBackend analyzes a single frame image.
// Errors are TRANSIENT_BACKEND (retryable) or PERMANENT_BACKEND AppErrors.
type AnalysisBackend interface {
	Analyze(ctx context.Context, imageRef string) (*AnalysisOutput, error)
	ModelID() string
}
