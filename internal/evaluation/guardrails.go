package evaluation

import "fmt"

// GuardrailConfig sets the parse quality an evaluation run must reach.
type GuardrailConfig struct {
	MinOutcomeAccuracy float64
	MinFieldAccuracy   float64
	MaxRejectionRate   float64
}

type Guardrails struct {
	config GuardrailConfig
}

func NewGuardrails(config GuardrailConfig) *Guardrails {
	if config.MaxRejectionRate <= 0 {
		config.MaxRejectionRate = 1
	}
	return &Guardrails{config: config}
}

// Violations lists every threshold the summary misses.
func (g *Guardrails) Violations(s *EvalSummary) []string {
	var out []string
	if s.OutcomeAccuracy < g.config.MinOutcomeAccuracy {
		out = append(out, fmt.Sprintf("outcome accuracy %.3f below %.3f", s.OutcomeAccuracy, g.config.MinOutcomeAccuracy))
	}
	if s.FieldAccuracy < g.config.MinFieldAccuracy {
		out = append(out, fmt.Sprintf("field accuracy %.3f below %.3f", s.FieldAccuracy, g.config.MinFieldAccuracy))
	}
	if s.RejectionRate > g.config.MaxRejectionRate {
		out = append(out, fmt.Sprintf("rejection rate %.3f above %.3f", s.RejectionRate, g.config.MaxRejectionRate))
	}
	return out
}

func (g *Guardrails) Passes(s *EvalSummary) bool {
	return len(g.Violations(s)) == 0
}
