package evaluation

import (
	"strings"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
)

// Rate returns count/total, or 0 when total is zero.
func Rate(count, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(count) / float64(total)
}

// FieldEqual compares an expected and parsed field ignoring case and surrounding space.
// An empty expectation matches anything.
func FieldEqual(expected, got string) bool {
	if expected == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(got))
}

// ScoreFields compares the labeled expectations of a golden output with a parsed finding.
// Risk levels are compared after normalization.
func ScoreFields(golden GoldenOutput, got entities.Finding) (checked, matched int) {
	pairs := []struct {
		expected, got string
	}{
		{golden.Finding, got.Finding},
		{golden.Location, got.Location},
	}
	for _, p := range pairs {
		if p.expected == "" {
			continue
		}
		checked++
		if FieldEqual(p.expected, p.got) {
			matched++
		}
	}
	if golden.RiskLevel != "" {
		checked++
		if entities.ParseRiskLevel(golden.RiskLevel) == got.Risk() {
			matched++
		}
	}
	return checked, matched
}

// OutcomeCounts tallies parser outcomes.
type OutcomeCounts struct {
	Structured int
	Fallback   int
	Rejected   int
}

// Add counts one outcome.
func (c *OutcomeCounts) Add(o findings.Outcome) {
	switch o {
	case findings.OutcomeStructured:
		c.Structured++
	case findings.OutcomeFallback:
		c.Fallback++
	default:
		c.Rejected++
	}
}

// Total is the number of outcomes counted.
func (c OutcomeCounts) Total() int {
	return c.Structured + c.Fallback + c.Rejected
}
