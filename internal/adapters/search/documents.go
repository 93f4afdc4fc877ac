package search

import (
	"fmt"
	"strings"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
)

const maxIndexedFeatures = 20

func buildFindingDocument(session *entities.ProcedureSession, analysis *entities.AnalysisResult) (map[string]interface{}, bool) {
	if analysis == nil || strings.TrimSpace(analysis.Finding) == "" {
		return nil, false
	}

	doc := map[string]interface{}{
		"id":          analysis.ID,
		"session_id":  analysis.SessionID,
		"frame_index": analysis.FrameIndex,
		"finding":     analysis.Finding,
		"location":    analysis.Location,
		"risk_level":  string(analysis.RiskLevel),
		"confidence":  analysis.Confidence,
		"features":    normalizeTerms(analysis.Features, maxIndexedFeatures),
		"created_at":  analysis.CreatedAt.Unix(),
	}
	if session != nil {
		doc["procedure_type"] = session.ProcedureType
	}
	return doc, true
}

// buildFilter renders the exact-match filters; values are backtick quoted.
func buildFilter(params providers.FindingSearchParams) string {
	var clauses []string
	if params.SessionID != "" {
		clauses = append(clauses, fmt.Sprintf("session_id:=`%s`", escapeFilterValue(params.SessionID)))
	}
	if params.RiskLevel != "" {
		level := entities.ParseRiskLevel(params.RiskLevel)
		clauses = append(clauses, fmt.Sprintf("risk_level:=`%s`", level))
	}
	if params.ProcedureType != "" {
		clauses = append(clauses, fmt.Sprintf("procedure_type:=`%s`", escapeFilterValue(params.ProcedureType)))
	}
	return strings.Join(clauses, " && ")
}

func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "`", "")
}

func parseFindingDocument(doc map[string]interface{}) providers.IndexedFinding {
	f := providers.IndexedFinding{}
	f.ID, _ = doc["id"].(string)
	f.SessionID, _ = doc["session_id"].(string)
	f.Finding, _ = doc["finding"].(string)
	f.Location, _ = doc["location"].(string)
	f.RiskLevel, _ = doc["risk_level"].(string)
	f.ProcedureType, _ = doc["procedure_type"].(string)
	if v, ok := doc["frame_index"].(float64); ok {
		f.FrameIndex = int(v)
	}
	if v, ok := doc["confidence"].(float64); ok {
		f.Confidence = v
	}
	return f
}

func normalizeTerms(terms []string, limit int) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out
}
