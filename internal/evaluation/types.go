package evaluation

import (
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
)

// Difficulty grades how far a golden output strays from the labeled grammar.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"   // clean labeled output
	DifficultyMedium Difficulty = "medium" // artifacts or leaked prompt text
	DifficultyHard   Difficulty = "hard"   // free text or broken templates
)

// IsValid checks if the difficulty value is one of the defined constants.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// GoldenOutput is a raw model output labeled with the parse it should produce.
type GoldenOutput struct {
	ID         string           `json:"id"`
	Raw        string           `json:"raw"`
	Outcome    findings.Outcome `json:"expected_outcome"`
	Finding    string           `json:"expected_finding,omitempty"`
	Location   string           `json:"expected_location,omitempty"`
	RiskLevel  string           `json:"expected_risk_level,omitempty"`
	Difficulty Difficulty       `json:"difficulty"`
}

// EvalResult holds the evaluation outcome for a single golden output.
type EvalResult struct {
	CaseID        string
	Difficulty    Difficulty
	Expected      findings.Outcome
	Outcome       findings.Outcome
	OutcomeMatch  bool
	FieldsChecked int
	FieldsMatched int
	Latency       time.Duration
}

// EvalSummary holds aggregate metrics across all golden outputs.
type EvalSummary struct {
	TotalCases      int                            `json:"total_cases"`
	StructuredRate  float64                        `json:"structured_rate"`
	FallbackRate    float64                        `json:"fallback_rate"`
	RejectionRate   float64                        `json:"rejection_rate"`
	OutcomeAccuracy float64                        `json:"outcome_accuracy"`
	FieldAccuracy   float64                        `json:"field_accuracy"`
	AvgLatency      time.Duration                  `json:"avg_latency"`
	Mismatches      []string                       `json:"mismatches,omitempty"`
	ByDifficulty    map[Difficulty]*DifficultyStat `json:"by_difficulty"`
}

// DifficultyStat holds metrics grouped by difficulty.
type DifficultyStat struct {
	Count           int     `json:"count"`
	OutcomeAccuracy float64 `json:"outcome_accuracy"`
}

// ReplaySummary describes how stored raw outputs of a session parse today.
type ReplaySummary struct {
	SessionID      string  `json:"session_id"`
	Total          int     `json:"total"`
	StructuredRate float64 `json:"structured_rate"`
	FallbackRate   float64 `json:"fallback_rate"`
	RejectionRate  float64 `json:"rejection_rate"`
	// Drifted counts stored findings that would now parse to different text.
	Drifted int `json:"drifted"`
}
