package providers

import (
	"context"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// ExtractionConfig tells the extraction utility how densely to emit candidates
type ExtractionConfig struct {
	TargetFPS float64 `json:"target_fps"`
	OutputKey string  `json:"output_prefix"`
}

// ExtractionResult is the candidate sequence plus source metadata
type ExtractionResult struct {
	Candidates      []entities.CandidateFrame `json:"frames"`
	DurationSeconds float64                   `json:"duration_seconds"`
	SourceFrames    int                       `json:"source_frames"`
}

// FrameExtractor decodes source media into candidate frames.
// Undecodable media fails with a DECODE AppError.
type FrameExtractor interface {
	Extract(ctx context.Context, sourceKey string, cfg ExtractionConfig) (*ExtractionResult, error)
}
