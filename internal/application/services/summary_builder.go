package services

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

const (
	maxKeyFindings     = 10
	keyFindingDedupLen = 50
	keyFindingTextLen  = 100
)

// NoFindingsOverview is the summary text of a session without analyses.
const NoFindingsOverview = "No significant findings detected."

// BuildSummary aggregates a session's analyses. timestamps maps frame index to
// capture offset.
func BuildSummary(sessionID string, analyses []*entities.AnalysisResult, timestamps map[int]int64, now time.Time) *entities.SessionSummary {
	summary := &entities.SessionSummary{
		SessionID:   sessionID,
		KeyFindings: []entities.KeyFinding{},
		Regions:     []string{},
		GeneratedAt: now.UTC(),
	}

	regionSet := map[string]bool{}
	var candidates []*entities.AnalysisResult
	for _, a := range analyses {
		summary.TotalAnalyzed++
		switch a.RiskLevel {
		case entities.RiskHigh:
			summary.HighRisk++
		case entities.RiskMedium:
			summary.MediumRisk++
		}
		if loc := strings.TrimSpace(a.Location); loc != "" && !regionSet[loc] {
			regionSet[loc] = true
			summary.Regions = append(summary.Regions, loc)
		}
		if (a.RiskLevel == entities.RiskHigh || a.RiskLevel == entities.RiskMedium) && a.Finding != "" {
			candidates = append(candidates, a)
		}
	}
	sort.Strings(summary.Regions)

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := candidates[i].RiskLevel.Rank(), candidates[j].RiskLevel.Rank()
		if ri != rj {
			return ri > rj
		}
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].FrameIndex < candidates[j].FrameIndex
	})

	seen := map[string]bool{}
	for _, a := range candidates {
		key := a.Location + "_" + prefix(a.Finding, keyFindingDedupLen)
		if seen[key] {
			continue
		}
		seen[key] = true
		summary.KeyFindings = append(summary.KeyFindings, entities.KeyFinding{
			FrameIndex:  a.FrameIndex,
			TimestampMS: timestamps[a.FrameIndex],
			Location:    a.Location,
			Finding:     a.Finding,
			RiskLevel:   a.RiskLevel,
			Confidence:  a.Confidence,
			Text:        a.Location + ": " + prefix(a.Finding, keyFindingTextLen),
		})
		if len(summary.KeyFindings) == maxKeyFindings {
			break
		}
	}

	summary.Overview = overview(summary)
	return summary
}

func overview(s *entities.SessionSummary) string {
	if s.TotalAnalyzed == 0 {
		return NoFindingsOverview
	}
	regions := "Various"
	if len(s.Regions) > 0 {
		regions = strings.Join(s.Regions, ", ")
	}

	var b strings.Builder
	b.WriteString("Educational Summary:\n\n")
	fmt.Fprintf(&b, "Total frames analyzed: %d\n", s.TotalAnalyzed)
	fmt.Fprintf(&b, "High-risk findings: %d\n", s.HighRisk)
	fmt.Fprintf(&b, "Medium-risk findings: %d\n", s.MediumRisk)
	fmt.Fprintf(&b, "Anatomical regions examined: %s\n\n", regions)
	if s.HighRisk == 0 && s.MediumRisk == 0 {
		b.WriteString(NoFindingsOverview + "\n")
	}
	b.WriteString("This educational analysis highlights areas that may warrant further attention during the procedure.\n")
	b.WriteString("All findings should be interpreted by a qualified physician in the full clinical context.")
	return b.String()
}

// RenderSummaryText renders summary.txt.
func RenderSummaryText(s *entities.SessionSummary) string {
	var b strings.Builder
	b.WriteString(s.Overview)
	b.WriteString("\n\nKey Findings:\n")
	for i, kf := range s.KeyFindings {
		fmt.Fprintf(&b, "%d. %s\n", i+1, kf.Text)
	}
	return b.String()
}

func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
