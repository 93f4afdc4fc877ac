package evaluation

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
)

// LoadGoldenOutputs reads and parses a golden output set from a JSON file.
func LoadGoldenOutputs(path string) ([]GoldenOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden outputs file: %w", err)
	}

	var cases []GoldenOutput
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse golden outputs: %w", err)
	}

	return cases, nil
}

// ValidateGoldenOutputs checks that all golden outputs have required fields and valid values.
func ValidateGoldenOutputs(cases []GoldenOutput) error {
	seen := make(map[string]struct{}, len(cases))

	for i, c := range cases {
		if c.ID == "" {
			return fmt.Errorf("case at index %d: missing id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("case at index %d: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = struct{}{}

		switch c.Outcome {
		case findings.OutcomeStructured, findings.OutcomeFallback:
			if c.Finding == "" {
				return fmt.Errorf("case %q: accepted outcome needs expected_finding", c.ID)
			}
		case findings.OutcomeRejected:
			if c.Finding != "" || c.Location != "" || c.RiskLevel != "" {
				return fmt.Errorf("case %q: rejected outcome cannot carry expected fields", c.ID)
			}
		default:
			return fmt.Errorf("case %q: invalid expected_outcome %q", c.ID, c.Outcome)
		}
		if !c.Difficulty.IsValid() {
			return fmt.Errorf("case %q: invalid difficulty %q (must be easy/medium/hard)", c.ID, c.Difficulty)
		}
	}

	return nil
}
