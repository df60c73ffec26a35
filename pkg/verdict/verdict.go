// Package verdict extracts normalized structured judgments from free-form
// model output. Reviewer models are prompted for a structured verdict but
// routinely wrap it in prose, fences, or markdown sections; the parser
// tolerates all three and normalizes to one shape.
package verdict

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Known normalized status values.
const (
	StatusApprove            = "APPROVE"
	StatusApproveWithChanges = "APPROVE_WITH_CHANGES"
	StatusReject             = "REJECT"
	StatusSecure             = "SECURE"
	StatusVulnerable         = "VULNERABLE"
	StatusCriticalIssues     = "CRITICAL_ISSUES"
	StatusPass               = "PASS"
	StatusFail               = "FAIL"
	StatusWarning            = "WARNING"
)

var knownStatuses = map[string]string{
	"APPROVE":              StatusApprove,
	"APPROVED":             StatusApprove,
	"APPROVE_WITH_CHANGES": StatusApproveWithChanges,
	"APPROVE WITH CHANGES": StatusApproveWithChanges,
	"REJECT":               StatusReject,
	"REJECTED":             StatusReject,
	"SECURE":               StatusSecure,
	"VULNERABLE":           StatusVulnerable,
	"CRITICAL_ISSUES":      StatusCriticalIssues,
	"CRITICAL ISSUES":      StatusCriticalIssues,
	"PASS":                 StatusPass,
	"PASSED":               StatusPass,
	"FAIL":                 StatusFail,
	"FAILED":               StatusFail,
	"WARNING":              StatusWarning,
}

// Verdict is the normalized judgment.
type Verdict struct {
	Status    string         `json:"status"`
	Score     float64        `json:"score"`
	Reasoning string         `json:"reasoning,omitempty"`
	RiskLevel string         `json:"risk_level,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

var (
	fencedRe    = regexp.MustCompile("(?s)```(?:yaml|yml|json|YAML|JSON)?\\s*\\n(.*?)```")
	sectionRe   = regexp.MustCompile(`(?is)#+\s*verdict\s*\n(.*?)(?:\n#+\s|\z)`)
	bulletRe    = regexp.MustCompile(`(?m)^\s*[-*]?\s*\*{0,2}([A-Za-z][A-Za-z _-]*?)\*{0,2}\s*:\s*(.+?)\s*$`)
	statusRe    = regexp.MustCompile(`(?im)^\s*\*{0,2}status\*{0,2}\s*:\s*(.+?)\s*$`)
	scoreRe     = regexp.MustCompile(`(?im)^\s*\*{0,2}score\*{0,2}\s*:\s*([0-9]+(?:\.[0-9]+)?)`)
	riskRe      = regexp.MustCompile(`(?im)^\s*\*{0,2}risk\s*level\*{0,2}\s*:\s*(.+?)\s*$`)
	reasoningRe = regexp.MustCompile(`(?im)^\s*\*{0,2}reasoning\*{0,2}\s*:\s*(.+?)\s*$`)
)

// Parse extracts a verdict from free-form output. Returns nil when nothing
// identifiable is found. Parsing a verdict's serialized Raw yields the same
// normalized verdict.
func Parse(text string) *Verdict {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// (a) First fenced YAML/JSON block.
	if m := fencedRe.FindStringSubmatch(text); m != nil {
		if v := fromStructured(m[1]); v != nil {
			return v
		}
	}

	// Bare structured document (covers re-parsing serialized Raw).
	if v := fromStructured(text); v != nil {
		return v
	}

	// (b) Markdown "Verdict" section with bullet key-values.
	if m := sectionRe.FindStringSubmatch(text); m != nil {
		if v := fromKeyValues(m[1]); v != nil {
			return v
		}
	}

	// (c) Known key-value patterns anywhere in the text.
	return fromKeyValues(text)
}

// fromStructured parses a YAML or JSON document. YAML is a superset of JSON
// so one decoder covers both fence tags.
func fromStructured(doc string) *Verdict {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil || raw == nil {
		return nil
	}
	// Reviewers often nest the fields under a "verdict" key.
	if inner, ok := raw["verdict"].(map[string]any); ok {
		raw = inner
	}
	return normalize(raw)
}

// fromKeyValues scans for Status/Score/Risk Level/Reasoning lines.
func fromKeyValues(text string) *Verdict {
	raw := map[string]any{}
	if m := statusRe.FindStringSubmatch(text); m != nil {
		raw["status"] = m[1]
	}
	if m := scoreRe.FindStringSubmatch(text); m != nil {
		raw["score"] = m[1]
	}
	if m := riskRe.FindStringSubmatch(text); m != nil {
		raw["risk_level"] = m[1]
	}
	if m := reasoningRe.FindStringSubmatch(text); m != nil {
		raw["reasoning"] = m[1]
	}
	if len(raw) == 0 {
		// Bullet lists inside a Verdict section use arbitrary casing.
		for _, m := range bulletRe.FindAllStringSubmatch(text, -1) {
			key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m[1]), " ", "_"))
			switch key {
			case "status", "score", "risk_level", "reasoning":
				raw[key] = strings.TrimSpace(m[2])
			}
		}
	}
	return normalize(raw)
}

// normalize maps a raw field map to the closed verdict shape. Returns nil
// when no recognizable status or score is present.
func normalize(raw map[string]any) *Verdict {
	v := &Verdict{Raw: raw}

	if s, ok := stringField(raw, "status"); ok {
		v.Status = normalizeStatus(s)
	}
	if v.Status == "" {
		// A bare score with no status is not a verdict.
		return nil
	}
	if score, ok := numberField(raw, "score"); ok {
		v.Score = clampScore(score)
	}
	if s, ok := stringField(raw, "reasoning"); ok {
		v.Reasoning = s
	}
	if s, ok := stringField(raw, "risk_level"); ok {
		v.RiskLevel = strings.ToUpper(s)
	} else if s, ok := stringField(raw, "risk level"); ok {
		v.RiskLevel = strings.ToUpper(s)
	}
	return v
}

// Serialize renders the verdict's raw object as JSON, suitable for
// re-parsing.
func (v *Verdict) Serialize() string {
	if v == nil {
		return ""
	}
	raw := v.Raw
	if raw == nil {
		raw = map[string]any{
			"status": v.Status,
			"score":  v.Score,
		}
		if v.Reasoning != "" {
			raw["reasoning"] = v.Reasoning
		}
		if v.RiskLevel != "" {
			raw["risk_level"] = v.RiskLevel
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(data)
}

// statusTokens is knownStatuses' keys ordered longest first, so decorated
// input like "** APPROVE_WITH_CHANGES **" matches the most specific token.
var statusTokens = func() []string {
	out := make([]string, 0, len(knownStatuses))
	for token := range knownStatuses {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}()

func normalizeStatus(s string) string {
	key := strings.ToUpper(strings.TrimSpace(strings.Trim(s, `"'`)))
	if norm, ok := knownStatuses[key]; ok {
		return norm
	}
	// Tolerate decoration around a known token.
	for _, token := range statusTokens {
		if strings.Contains(key, token) {
			return knownStatuses[token]
		}
	}
	return ""
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func stringField(raw map[string]any, key string) (string, bool) {
	val, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func numberField(raw map[string]any, key string) (float64, bool) {
	switch val := raw[key].(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
