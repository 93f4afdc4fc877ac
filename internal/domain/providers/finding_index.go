package providers

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// FindingSearchParams filters a findings search
type FindingSearchParams struct {
	Query         string
	SessionID     string
	RiskLevel     string
	ProcedureType string
	Limit         int
}

// IndexedFinding is a findings-index document
type IndexedFinding struct {
	ID            string  `json:"id"`
	SessionID     string  `json:"session_id"`
	FrameIndex    int     `json:"frame_index"`
	Finding       string  `json:"finding"`
	Location      string  `json:"location"`
	RiskLevel     string  `json:"risk_level"`
	Confidence    float64 `json:"confidence"`
	ProcedureType string  `json:"procedure_type"`
}

// FindingIndex is a full-text index over analysis findings
type FindingIndex interface {
	IndexAnalyses(ctx context.Context, session *entities.ProcedureSession, analyses []*entities.AnalysisResult) error
	Search(ctx context.Context, params FindingSearchParams) ([]IndexedFinding, error)
}
