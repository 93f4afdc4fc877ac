package evaluation

import (
	"math"
	"testing"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/findings"
)

const floatTolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func TestRate(t *testing.T) {
	if got := Rate(1, 4); !almostEqual(got, 0.25) {
		t.Errorf("expected 0.25, got %f", got)
	}
	if got := Rate(3, 0); !almostEqual(got, 0) {
		t.Errorf("expected 0 for empty total, got %f", got)
	}
}

func TestFieldEqual(t *testing.T) {
	if !FieldEqual(" Sigmoid Colon ", "sigmoid colon") {
		t.Error("expected case and space insensitive match")
	}
	if !FieldEqual("", "anything") {
		t.Error("expected empty expectation to match")
	}
	if FieldEqual("cecum", "rectum") {
		t.Error("expected mismatch")
	}
}

func TestScoreFields(t *testing.T) {
	golden := GoldenOutput{Finding: "Small polyp", Location: "Cecum", RiskLevel: "Medium"}
	got := entities.Finding{Finding: "small polyp", Location: "Rectum", RiskLevel: "moderate risk"}

	checked, matched := ScoreFields(golden, got)
	if checked != 3 {
		t.Errorf("expected 3 checked fields, got %d", checked)
	}
	// finding matches, location does not, moderate normalizes to medium
	if matched != 2 {
		t.Errorf("expected 2 matched fields, got %d", matched)
	}
}

func TestScoreFields_SkipsUnlabeledExpectations(t *testing.T) {
	checked, matched := ScoreFields(GoldenOutput{Finding: "x"}, entities.Finding{Finding: "x"})
	if checked != 1 || matched != 1 {
		t.Errorf("expected 1/1, got %d/%d", matched, checked)
	}
}

func TestOutcomeCounts(t *testing.T) {
	var c OutcomeCounts
	for _, o := range []findings.Outcome{findings.OutcomeStructured, findings.OutcomeFallback, findings.OutcomeRejected, findings.OutcomeStructured} {
		c.Add(o)
	}
	if c.Structured != 2 || c.Fallback != 1 || c.Rejected != 1 || c.Total() != 4 {
		t.Errorf("unexpected counts %+v", c)
	}
}
