package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
	"github.com/zatekoja/procedurecopilot/backend/pkg/retry"
)

// FrameAnalyzer runs one frame through the analysis backend and the finding
// parser, and persists the result.
type FrameAnalyzer struct {
	backend  providers.AnalysisBackend
	analyses repositories.AnalysisRepository
	frames   repositories.FrameRepository
	metrics  *observability.Metrics

	// Retry is the per-frame retry budget; only transient errors are retried.
	Retry retry.Config
	Now   func() time.Time
}

// NewFrameAnalyzer creates a new frame analyzer
func NewFrameAnalyzer(
	backend providers.AnalysisBackend,
	analyses repositories.AnalysisRepository,
	frames repositories.FrameRepository,
	attempts int,
	metrics *observability.Metrics,
) *FrameAnalyzer {
	return &FrameAnalyzer{
		backend:  backend,
		analyses: analyses,
		frames:   frames,
		metrics:  metrics,
		Retry:    retry.StageConfig(attempts, apperrors.IsTransient),
		Now:      time.Now,
	}
}

// Analyze analyzes the frame image and writes the single AnalysisResult of the frame.
func (a *FrameAnalyzer) Analyze(ctx context.Context, session *entities.ProcedureSession, frame *entities.Frame) (*entities.AnalysisResult, error) {
	ctx, span := observability.StartSpan(ctx, "FrameAnalyzer.Analyze")
	defer span.End()
	logger := observability.LoggerFromContext(ctx)

	start := a.Now()
	var output *providers.AnalysisOutput
	err := retry.DoWithLog(ctx, a.Retry, "analysis backend", func() error {
		out, err := a.backend.Analyze(ctx, frame.ImageKey)
		if err != nil {
			return err
		}
		output = out
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().Err(err).
			Str("session_id", session.ID).
			Int("frame_index", frame.Index).
			Int("attempt", attempt).
			Dur("retry_in", nextDelay).
			Msg("analysis attempt failed")
	})
	elapsed := a.Now().Sub(start)
	if err != nil {
		observability.RecordAnalysisCall(ctx, a.metrics, "failed", elapsed)
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordAnalysisCall(ctx, a.metrics, "ok", elapsed)

	result, outcome := BuildAnalysisResult(session.ID, frame, a.backend.ModelID(), output, elapsed)
	result.CreatedAt = a.Now().UTC()
	observability.RecordParseOutcome(ctx, a.metrics, string(outcome))
	logger.Debug().
		Str("session_id", session.ID).
		Int("frame_index", frame.Index).
		Str("outcome", string(outcome)).
		Str("grammar", findings.GrammarVersion).
		Msg("parsed analysis output")

	if a.analyses != nil {
		if err := a.analyses.Upsert(ctx, result); err != nil {
			return nil, err
		}
	}
	if a.frames != nil && frame.ID != "" {
		if err := a.frames.MarkAnalyzed(ctx, frame.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// BuildAnalysisResult maps backend output onto an AnalysisResult. Labeled
// fields parsed from the raw text win over the backend's own fields; a
// rejected parse leaves the finding text empty.
func BuildAnalysisResult(sessionID string, frame *entities.Frame, modelID string, out *providers.AnalysisOutput, inference time.Duration) (*entities.AnalysisResult, findings.Outcome) {
	raw := out.RawText
	if strings.TrimSpace(raw) == "" {
		raw = out.FindingText
	}

	parsed, outcome := findings.Parse(raw)

	result := &entities.AnalysisResult{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		FrameID:     frame.ID,
		FrameIndex:  frame.Index,
		ModelID:     modelID,
		InferenceMS: inference.Milliseconds(),
		Location:    strings.TrimSpace(out.Location),
		RiskLevel:   entities.ParseRiskLevel(out.RiskLevel),
		RawOutput:   raw,
	}

	switch outcome {
	case findings.OutcomeStructured:
		result.Finding = parsed.Finding
		if parsed.Location != "" {
			result.Location = parsed.Location
		}
		if risk := parsed.Risk(); risk != entities.RiskUnknown {
			result.RiskLevel = risk
		}
	case findings.OutcomeFallback:
		result.Finding = parsed.Finding
	}

	if out.Confidence != nil {
		result.Confidence = clamp01(*out.Confidence)
	} else {
		result.Confidence = result.RiskLevel.DefaultConfidence()
	}

	result.Features = normalizeFeatures(out.Features)
	if len(result.Features) == 0 {
		result.Features = entities.DetectFeatures(result.Finding)
	}
	return result, outcome
}

// FindingFor returns the validated finding of an analysis, if it has one.
func FindingFor(result *entities.AnalysisResult) (entities.Finding, bool) {
	if result == nil || result.Finding == "" {
		return entities.Finding{}, false
	}
	if parsed, outcome := findings.Parse(result.RawOutput); outcome == findings.OutcomeStructured {
		return parsed, true
	}
	return entities.Finding{
		Finding:   result.Finding,
		Location:  result.Location,
		RiskLevel: string(result.RiskLevel),
	}, true
}

func normalizeFeatures(features []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, f := range features {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
