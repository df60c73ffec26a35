// Package jsonrepair extracts structured JSON from free-form LLM output.
//
// The repair strategy is deliberately a fixed, ordered set of heuristics:
// code-fence extraction, outer-bracket extraction, control-character
// stripping, escaped-newline normalization, and a first-to-last-brace
// last resort. New heuristics change behavior on adversarial inputs and
// must not be added silently.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is wrapped in errors returned when nothing parseable was found.
var ErrNoJSON = fmt.Errorf("no parseable JSON found")

// headLen bounds how much of the raw output is echoed in errors.
const headLen = 200

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// Parse extracts and unmarshals the first JSON document found in raw.
func Parse(raw string, v any) error {
	doc, err := Extract(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("repaired JSON still invalid: %w (head: %q)", err, head(raw))
	}
	return nil
}

// Extract returns the JSON document embedded in raw. Already-valid JSON is
// returned unchanged, making Extract idempotent.
func Extract(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty input", ErrNoJSON)
	}

	// Already valid: no repair.
	if json.Valid([]byte(s)) {
		return s, nil
	}

	// 1. Innermost fenced code block.
	if matches := fenceRe.FindAllStringSubmatch(s, -1); len(matches) > 0 {
		candidate := strings.TrimSpace(matches[len(matches)-1][1])
		if doc, ok := tryRepairs(candidate); ok {
			return doc, nil
		}
	}

	// 2. Outermost {…} or […] substrings, earliest start first.
	for _, candidate := range bracketCandidates(s) {
		if doc, ok := tryRepairs(candidate); ok {
			return doc, nil
		}
	}

	// 3. Last resort: first '{' to last '}'.
	first, last := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if first >= 0 && last > first {
		if doc, ok := tryRepairs(s[first : last+1]); ok {
			return doc, nil
		}
	}

	return "", fmt.Errorf("%w (head: %q)", ErrNoJSON, head(raw))
}

// tryRepairs validates a candidate, applying the cleanup passes in order.
func tryRepairs(candidate string) (string, bool) {
	if json.Valid([]byte(candidate)) {
		return candidate, true
	}
	cleaned := stripControlChars(candidate)
	if json.Valid([]byte(cleaned)) {
		return cleaned, true
	}
	cleaned = normalizeEscapes(cleaned)
	if json.Valid([]byte(cleaned)) {
		return cleaned, true
	}
	return "", false
}

// bracketCandidates returns the balanced {…} or […] substrings starting at
// each opening bracket, earliest first. Text like "{oops then {\"a\": 1}"
// yields the inner object even though the first bracket never closes.
func bracketCandidates(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if candidate := balancedFrom(s, i); candidate != "" {
			out = append(out, candidate)
		}
	}
	return out
}

// balancedFrom returns the balanced bracket substring starting at index
// start, or "" when it never closes.
func balancedFrom(s string, start int) string {
	open, closeCh := s[start], byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripControlChars removes control characters that strict parsers reject,
// keeping newlines and tabs.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// normalizeEscapes rewrites literal newlines inside string values as \n
// escapes. LLMs frequently emit raw newlines in what should be a JSON
// string, which strict parsers reject.
func normalizeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			b.WriteByte(c)
			escaped = true
		case c == '"':
			inString = !inString
			b.WriteByte(c)
		case inString && c == '\n':
			b.WriteString(`\n`)
		case inString && c == '\r':
			// dropped
		case inString && c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func head(s string) string {
	if len(s) <= headLen {
		return s
	}
	return s[:headLen]
}
