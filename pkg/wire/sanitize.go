package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// sanitizeJSON deep-cleans a value for wire output: every string field is
// stripped of control characters except newline and tab. The value round-trips
// through JSON so arbitrary structs are handled uniformly.
func sanitizeJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return json.Marshal(cleanValue(decoded))
}

func cleanValue(v any) any {
	switch val := v.(type) {
	case string:
		return cleanString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[cleanString(k)] = cleanValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cleanValue(item)
		}
		return out
	default:
		return v
	}
}

// cleanString drops control characters, keeping newline and tab.
func cleanString(s string) string {
	if !strings.ContainsFunc(s, isBannedControl) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isBannedControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBannedControl(r rune) bool {
	return (r < 0x20 && r != '\n' && r != '\t') || r == 0x7f
}
