package evaluation

import (
	"context"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
)

// ParseFunc turns raw model text into a finding and an outcome.
type ParseFunc func(raw string) (entities.Finding, findings.Outcome)

// Runner runs evaluation across a set of golden outputs.
type Runner struct {
	parse ParseFunc
}

// NewRunner returns a runner; a nil parse uses findings.Parse.
func NewRunner(parse ParseFunc) *Runner {
	if parse == nil {
		parse = findings.Parse
	}
	return &Runner{parse: parse}
}

func (r *Runner) Run(ctx context.Context, cases []GoldenOutput) (*EvalSummary, error) {
	summary := &EvalSummary{
		TotalCases:   len(cases),
		ByDifficulty: make(map[Difficulty]*DifficultyStat),
	}

	var counts OutcomeCounts
	var outcomeHits, fieldsChecked, fieldsMatched int
	for _, gc := range cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		finding, outcome := r.parse(gc.Raw)
		result := EvalResult{
			CaseID:       gc.ID,
			Difficulty:   gc.Difficulty,
			Expected:     gc.Outcome,
			Outcome:      outcome,
			OutcomeMatch: outcome == gc.Outcome,
			Latency:      time.Since(start),
		}
		if result.OutcomeMatch && outcome != findings.OutcomeRejected {
			result.FieldsChecked, result.FieldsMatched = ScoreFields(gc, finding)
		}

		counts.Add(outcome)
		if result.OutcomeMatch {
			outcomeHits++
		} else {
			summary.Mismatches = append(summary.Mismatches, gc.ID)
		}
		fieldsChecked += result.FieldsChecked
		fieldsMatched += result.FieldsMatched
		summary.AvgLatency += result.Latency

		stat, ok := summary.ByDifficulty[gc.Difficulty]
		if !ok {
			stat = &DifficultyStat{}
			summary.ByDifficulty[gc.Difficulty] = stat
		}
		stat.Count++
		if result.OutcomeMatch {
			stat.OutcomeAccuracy++
		}
	}

	summary.StructuredRate = Rate(counts.Structured, counts.Total())
	summary.FallbackRate = Rate(counts.Fallback, counts.Total())
	summary.RejectionRate = Rate(counts.Rejected, counts.Total())
	summary.OutcomeAccuracy = Rate(outcomeHits, len(cases))
	summary.FieldAccuracy = Rate(fieldsMatched, fieldsChecked)
	if fieldsChecked == 0 {
		summary.FieldAccuracy = 1
	}
	if len(cases) > 0 {
		summary.AvgLatency /= time.Duration(len(cases))
	}
	for _, stat := range summary.ByDifficulty {
		stat.OutcomeAccuracy /= float64(stat.Count)
	}
	return summary, nil
}

// Replay re-parses the stored raw outputs of a session and reports drift
// between the stored finding text and what the parser produces now.
func (r *Runner) Replay(ctx context.Context, analyses repositories.AnalysisRepository, sessionID string) (*ReplaySummary, error) {
	results, err := analyses.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var counts OutcomeCounts
	summary := &ReplaySummary{SessionID: sessionID}
	for _, res := range results {
		finding, outcome := r.parse(res.RawOutput)
		counts.Add(outcome)
		if outcome == findings.OutcomeRejected {
			finding = entities.Finding{}
		}
		if finding.Finding != res.Finding {
			summary.Drifted++
		}
	}

	summary.Total = counts.Total()
	summary.StructuredRate = Rate(counts.Structured, summary.Total)
	summary.FallbackRate = Rate(counts.Fallback, summary.Total)
	summary.RejectionRate = Rate(counts.Rejected, summary.Total)
	return summary, nil
}
