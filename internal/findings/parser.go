// Package findings turns raw analysis model text into structured findings.
//
// The labeled-field grammar below is a versioned contract with the analysis
// backend's prompt. Drift in the model's output format degrades parses to the
// fallback cleaner or to rejection, so callers should count outcomes.
package findings

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
)

// GrammarVersion identifies the labeled-field grammar understood by Parse.
const GrammarVersion = "v1"

const (
	MinFindingLength  = 3
	MinFallbackLength = 10
	MaxFallbackLength = 300
	ellipsis          = "..."
)

// Outcome classifies how a raw text was handled.
type Outcome string

const (
	OutcomeStructured Outcome = "structured"
	OutcomeFallback   Outcome = "fallback"
	OutcomeRejected   Outcome = "rejected"
)

type labelKind int

const (
	labelFinding labelKind = iota
	labelLocation
	labelRisk
	labelAction
)

var (
	labelPattern = regexp.MustCompile(`(?i)\b(finding|location|risk(?:\s+level)?(?:\s*\(\s*low\s*/\s*medium\s*/\s*high\s*\))?|suggested\s+(?:next\s+step|action)|next\s+step)\s*:`)

	findingLabelPrefix = regexp.MustCompile(`(?i)^finding\s*:`)

	emptyTemplatePattern = regexp.MustCompile(`(?i)\bfinding\s*:\s*location\s*:\s*risk(?:\s+level)?(?:\s*\(\s*low\s*/\s*medium\s*/\s*high\s*\))?\s*:\s*(?:suggested\s+(?:next\s+step|action)|next\s+step)\s*:`)

	// Removed in order, each from its match up to the next label or end of text.
	leakedPromptPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you\s+are\s+med(?:gemma|visor)`),
		regexp.MustCompile(`(?i)analyze\s+this`),
		regexp.MustCompile(`(?i)return\s+only\s+structured\s+output`),
		regexp.MustCompile(`(?i)\[system\]`),
		regexp.MustCompile(`(?i)do\s+not\s+provide`),
		regexp.MustCompile(`(?i)be\s+cautious`),
		regexp.MustCompile(`(?i)assisting\s+an\s+endoscopist`),
		regexp.MustCompile(`(?i)<start_of_image>`),
	}

	artifactPattern = regexp.MustCompile("(?i)<(?:start|end)_of_(?:image|turn)>|<(?:bos|eos|pad|image)>|```")

	artifactTokens = []string{"medgemma", "medvisor", "analyze", "endoscopist"}
)

// Parse extracts a Finding from raw model text. A structured parse needs the
// Finding label plus Location or Risk; Suggested Action is optional.
// The returned Finding is only meaningful when the outcome is not OutcomeRejected.
func Parse(raw string) (entities.Finding, Outcome) {
	text := Clean(raw)

	if fields, ok := extractFields(text); ok {
		finding := entities.Finding{
			Finding:         fields[labelFinding],
			Location:        fields[labelLocation],
			RiskLevel:       fields[labelRisk],
			SuggestedAction: fields[labelAction],
			Structured:      true,
		}
		if !validFinding(finding.Finding) {
			return entities.Finding{}, OutcomeRejected
		}
		return finding, OutcomeStructured
	}

	text = cleanFallback(text)
	if utf8.RuneCountInString(text) < MinFallbackLength {
		return entities.Finding{}, OutcomeRejected
	}
	return entities.Finding{Finding: truncate(text, MaxFallbackLength)}, OutcomeFallback
}

// ParseText is Parse rendered back to text; rejected input yields "".
func ParseText(raw string) string {
	finding, outcome := Parse(raw)
	if outcome == OutcomeRejected {
		return ""
	}
	return finding.Text()
}

// Clean strips empty templates, leaked prompt text and tokenizer artifacts
// until nothing more can be removed.
func Clean(raw string) string {
	text := raw
	for {
		next := cleanOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func cleanOnce(text string) string {
	text = stripEmptyTemplates(text)
	text = stripLeakedPrompts(text)
	text = artifactPattern.ReplaceAllString(text, " ")
	return normalizeWhitespace(text)
}

// stripEmptyTemplates removes all-blank label blocks that are followed by
// another Finding block or by the end of the text.
func stripEmptyTemplates(text string) string {
	from := 0
	for from < len(text) {
		loc := emptyTemplatePattern.FindStringIndex(text[from:])
		if loc == nil {
			break
		}
		start, end := from+loc[0], from+loc[1]
		rest := strings.TrimLeft(text[end:], " \t\r\n")
		if rest == "" || findingLabelPrefix.MatchString(rest) {
			text = text[:start] + text[end:]
			from = start
			continue
		}
		from = end
	}
	return text
}

// cleanFallback drops stray labels from text that did not parse as a
// labeled block, so fallback findings never carry a "Finding:" prefix.
func cleanFallback(text string) string {
	for {
		next := Clean(labelPattern.ReplaceAllString(text, " "))
		if next == text {
			return next
		}
		text = next
	}
}

func stripLeakedPrompts(text string) string {
	for _, pattern := range leakedPromptPatterns {
		for {
			loc := pattern.FindStringIndex(text)
			if loc == nil {
				break
			}
			end := len(text)
			if next := labelPattern.FindStringIndex(text[loc[1]:]); next != nil {
				end = loc[1] + next[0]
			}
			text = text[:loc[0]] + text[end:]
		}
	}
	return text
}

// extractFields returns the first value of each label. Finding is required,
// together with at least one of Location or Risk.
func extractFields(text string) (map[labelKind]string, bool) {
	matches := labelPattern.FindAllStringSubmatchIndex(text, -1)
	fields := make(map[labelKind]string, 4)

	for i, m := range matches {
		kind := kindOf(text[m[2]:m[3]])
		if _, seen := fields[kind]; seen {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		fields[kind] = strings.Join(strings.Fields(text[m[1]:end]), " ")
	}

	if _, ok := fields[labelFinding]; !ok {
		return nil, false
	}
	_, hasLocation := fields[labelLocation]
	_, hasRisk := fields[labelRisk]
	if !hasLocation && !hasRisk {
		return nil, false
	}
	return fields, true
}

func kindOf(label string) labelKind {
	switch strings.ToLower(label[:1]) {
	case "f":
		return labelFinding
	case "l":
		return labelLocation
	case "r":
		return labelRisk
	}
	return labelAction
}

func validFinding(finding string) bool {
	if utf8.RuneCountInString(finding) < MinFindingLength {
		return false
	}
	lower := strings.ToLower(finding)
	for _, token := range artifactTokens {
		if strings.Contains(lower, token) {
			return false
		}
	}
	return true
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := strings.TrimSpace(string(runes[:max-len(ellipsis)]))
	return cut + ellipsis
}
