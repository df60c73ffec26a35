package guard

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
)

// FuzzyEdit is one find/replace pair submitted to the fuzzy editor.
type FuzzyEdit struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// FuzzyValidation is the outcome of the complexity pre-check.
type FuzzyValidation struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
	TotalChars int      `json:"total_chars"`
	EditCount  int      `json:"edit_count"`
}

// FuzzyValidator rejects pathological fuzzy-edit inputs before any
// expensive matching work happens. The validator is monotone: a valid edit
// list has only valid prefixes, and adding edits never removes a failure
// reason.
type FuzzyValidator struct {
	limits config.FuzzyConfig
}

// NewFuzzyValidator creates a validator with the given limits.
func NewFuzzyValidator(limits config.FuzzyConfig) *FuzzyValidator {
	return &FuzzyValidator{limits: limits}
}

// Validate checks a raw edits value (as decoded JSON) against the
// complexity limits. Every violation is reported; metric events fire per
// rejection reason.
func (v *FuzzyValidator) Validate(raw any) *FuzzyValidation {
	result := &FuzzyValidation{}

	items, ok := raw.([]any)
	if !ok {
		result.Errors = append(result.Errors, "edits must be an array")
		metrics.FuzzyRejected.WithLabelValues("not_array").Inc()
		return result
	}
	if len(items) == 0 {
		result.Errors = append(result.Errors, "edits array is empty")
		metrics.FuzzyRejected.WithLabelValues("empty").Inc()
		return result
	}

	total := 0
	for i, item := range items {
		edit, err := coerceEdit(item)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("edit %d: %v", i, err))
			metrics.FuzzyRejected.WithLabelValues("malformed_item").Inc()
			continue
		}
		result.EditCount++

		if len(edit.Find) > v.limits.MaxSingle {
			result.Errors = append(result.Errors,
				fmt.Sprintf("edit %d: find exceeds %d chars (%d)", i, v.limits.MaxSingle, len(edit.Find)))
			metrics.FuzzyRejected.WithLabelValues("single_too_large").Inc()
		}
		if len(edit.Replace) > v.limits.MaxSingle {
			result.Errors = append(result.Errors,
				fmt.Sprintf("edit %d: replace exceeds %d chars (%d)", i, v.limits.MaxSingle, len(edit.Replace)))
			metrics.FuzzyRejected.WithLabelValues("single_too_large").Inc()
		}
		if lines := strings.Count(edit.Find, "\n"); lines > v.limits.MaxLines {
			result.Errors = append(result.Errors,
				fmt.Sprintf("edit %d: find spans %d lines, max %d", i, lines, v.limits.MaxLines))
			metrics.FuzzyRejected.WithLabelValues("too_many_lines").Inc()
		}
		total += len(edit.Find) + len(edit.Replace)
	}
	result.TotalChars = total

	if total > v.limits.MaxTotal {
		result.Errors = append(result.Errors,
			fmt.Sprintf("total size %d exceeds %d chars", total, v.limits.MaxTotal))
		metrics.FuzzyRejected.WithLabelValues("total_too_large").Inc()
	}

	result.Valid = len(result.Errors) == 0
	return result
}

// ValidateEdits is the typed convenience form.
func (v *FuzzyValidator) ValidateEdits(edits []FuzzyEdit) *FuzzyValidation {
	raw := make([]any, len(edits))
	for i, e := range edits {
		raw[i] = map[string]any{"find": e.Find, "replace": e.Replace}
	}
	return v.Validate(raw)
}

// coerceEdit converts one decoded JSON item into a FuzzyEdit, requiring
// string find and replace fields.
func coerceEdit(item any) (*FuzzyEdit, error) {
	obj, ok := item.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not an object")
	}
	find, ok := obj["find"].(string)
	if !ok {
		return nil, fmt.Errorf("missing string field %q", "find")
	}
	replace, ok := obj["replace"].(string)
	if !ok {
		return nil, fmt.Errorf("missing string field %q", "replace")
	}
	return &FuzzyEdit{Find: find, Replace: replace}, nil
}

// ClampThreshold clamps a fuzzy match threshold to [0.1, 1.0].
// Zero (unset) resolves to the default 0.8.
func ClampThreshold(threshold float64) float64 {
	if threshold == 0 {
		return 0.8
	}
	if threshold < 0.1 {
		return 0.1
	}
	if threshold > 1.0 {
		return 1.0
	}
	return threshold
}

// ClampMaxSuggestions clamps a suggestion count to [1, 10].
// Zero (unset) resolves to the default 3.
func ClampMaxSuggestions(n int) int {
	if n == 0 {
		return 3
	}
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// DecodeEdits parses a JSON edits payload for validation.
func DecodeEdits(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
