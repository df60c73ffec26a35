package fileops

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/Platano78/smart-ai-bridge/pkg/guard"
)

// suggestionFloor is the minimum similarity for an alternative suggestion.
const suggestionFloor = 0.4

// FuzzyEdit applies find/replace edits to one file. Strict mode accepts
// exact matches only; lenient falls back to the best approximate match above
// the threshold; dry-run computes everything but mutates nothing. Any
// mutation is preceded by a timestamped backup.
func (l *Local) FuzzyEdit(ctx context.Context, req *FuzzyEditRequest) (*FuzzyReport, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("empty path")
	}
	switch req.Mode {
	case ModeStrict, ModeLenient, ModeDryRun:
	case "":
		req.Mode = ModeStrict
	default:
		return nil, fmt.Errorf("unknown mode %q", req.Mode)
	}
	threshold := guard.ClampThreshold(req.Threshold)
	maxSuggestions := guard.ClampMaxSuggestions(req.MaxSuggestions)

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.Path, err)
	}
	content := string(data)

	report := &FuzzyReport{
		Path:   req.Path,
		Mode:   req.Mode,
		DryRun: req.Mode == ModeDryRun,
	}

	for i, edit := range req.Edits {
		outcome, err := guard.WithTimeout(ctx, 0, func() (EditOutcome, error) {
			return l.applyEdit(&content, i, edit, req.Mode, threshold, maxSuggestions, req.SuggestAlternatives), nil
		})
		if err != nil {
			outcome = EditOutcome{Index: i, Error: err.Error()}
		}
		if outcome.Applied {
			report.AppliedCount++
		}
		report.Edits = append(report.Edits, outcome)
	}

	if report.AppliedCount == 0 {
		return report, nil
	}
	if req.Mode == ModeDryRun {
		report.Preview = preview(content)
		return report, nil
	}

	info, err := l.backups.Create(req.Path)
	if err != nil {
		return nil, fmt.Errorf("backing up before edit: %w", err)
	}
	report.Backup = info.ID

	if err := os.WriteFile(req.Path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", req.Path, err)
	}
	return report, nil
}

// applyEdit mutates content in place for one edit pair.
func (l *Local) applyEdit(content *string, index int, edit EditPair, mode string, threshold float64, maxSuggestions int, suggest bool) EditOutcome {
	outcome := EditOutcome{Index: index}

	if edit.Find == "" {
		outcome.Error = "empty find text"
		return outcome
	}

	if strings.Contains(*content, edit.Find) {
		*content = strings.Replace(*content, edit.Find, edit.Replace, 1)
		outcome.Applied = true
		outcome.Exact = true
		outcome.Similarity = 1.0
		return outcome
	}

	candidate, similarity := bestMatch(*content, edit.Find)

	if mode == ModeStrict || (mode == ModeDryRun && similarity < threshold) {
		outcome.Error = fmt.Sprintf("no exact match (best similarity %.2f)", similarity)
		if suggest && candidate != "" && similarity >= suggestionFloor {
			outcome.Suggestions = suggestions(*content, edit.Find, maxSuggestions)
		}
		if mode == ModeStrict {
			return outcome
		}
	}

	if similarity >= threshold && candidate != "" {
		*content = strings.Replace(*content, candidate, edit.Replace, 1)
		outcome.Applied = true
		outcome.Similarity = similarity
		outcome.Error = ""
		return outcome
	}

	outcome.Similarity = similarity
	if outcome.Error == "" {
		outcome.Error = fmt.Sprintf("best match similarity %.2f below threshold %.2f", similarity, threshold)
		if suggest && candidate != "" && similarity >= suggestionFloor {
			outcome.Suggestions = suggestions(*content, edit.Find, maxSuggestions)
		}
	}
	return outcome
}

// bestMatch slides a window of the same line count as find over the content
// and returns the most similar window text with its similarity.
func bestMatch(content, find string) (string, float64) {
	lines := strings.Split(content, "\n")
	findLines := strings.Count(find, "\n") + 1

	best := ""
	bestSim := 0.0
	for i := 0; i+findLines <= len(lines); i++ {
		window := strings.Join(lines[i:i+findLines], "\n")
		sim := levenshtein.Similarity(window, find, nil)
		if sim > bestSim {
			bestSim = sim
			best = window
		}
	}
	return best, bestSim
}

// suggestions returns the top-N most similar windows, best first.
func suggestions(content, find string, n int) []string {
	lines := strings.Split(content, "\n")
	findLines := strings.Count(find, "\n") + 1

	type scored struct {
		text string
		sim  float64
	}
	var candidates []scored
	for i := 0; i+findLines <= len(lines); i++ {
		window := strings.Join(lines[i:i+findLines], "\n")
		sim := levenshtein.Similarity(window, find, nil)
		if sim >= suggestionFloor {
			candidates = append(candidates, scored{text: window, sim: sim})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].sim > candidates[j].sim })

	var out []string
	for _, c := range candidates {
		if len(out) >= n {
			break
		}
		out = append(out, preview(c.text))
	}
	return out
}

// preview bounds a text sample for reports.
func preview(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
