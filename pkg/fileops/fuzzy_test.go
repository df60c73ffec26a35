package fileops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fuzzySample = `func add(a, b int) int {
	return a + b
}

func sub(a, b int) int {
	return a - b
}
`

func writeFuzzySample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "math.go")
	require.NoError(t, os.WriteFile(path, []byte(fuzzySample), 0o644))
	return path
}

func TestFuzzyEditExactMatch(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path: path,
		Mode: ModeStrict,
		Edits: []EditPair{
			{Find: "return a + b", Replace: "return b + a"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.AppliedCount)
	require.Len(t, report.Edits, 1)
	assert.True(t, report.Edits[0].Exact)
	assert.Equal(t, 1.0, report.Edits[0].Similarity)
	assert.NotEmpty(t, report.Backup, "mutations are preceded by a backup")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "return b + a")
}

func TestFuzzyEditStrictRejectsApproximate(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path: path,
		Mode: ModeStrict,
		Edits: []EditPair{
			{Find: "return a+b", Replace: "return 0"}, // spacing differs
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.AppliedCount)
	assert.False(t, report.Edits[0].Applied)
	assert.Contains(t, report.Edits[0].Error, "no exact match")
	assert.Empty(t, report.Backup, "nothing applied, nothing backed up")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fuzzySample, string(data))
}

func TestFuzzyEditLenientAcceptsApproximate(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path:      path,
		Mode:      ModeLenient,
		Threshold: 0.7,
		Edits: []EditPair{
			{Find: "\treturn a +b", Replace: "\treturn a + b + 0"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.AppliedCount)
	assert.False(t, report.Edits[0].Exact)
	assert.GreaterOrEqual(t, report.Edits[0].Similarity, 0.7)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "return a + b + 0")
}

func TestFuzzyEditLenientBelowThreshold(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path:      path,
		Mode:      ModeLenient,
		Threshold: 0.9,
		Edits: []EditPair{
			{Find: "completely unrelated text", Replace: "x"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.AppliedCount)
	assert.Contains(t, report.Edits[0].Error, "below threshold")
}

func TestFuzzyEditDryRun(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path: path,
		Mode: ModeDryRun,
		Edits: []EditPair{
			{Find: "return a - b", Replace: "return b - a"},
		},
	})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.AppliedCount)
	assert.NotEmpty(t, report.Preview)
	assert.Empty(t, report.Backup)

	// The file itself is untouched.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fuzzySample, string(data))
}

func TestFuzzyEditSuggestions(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path:                path,
		Mode:                ModeStrict,
		MaxSuggestions:      2,
		SuggestAlternatives: true,
		Edits: []EditPair{
			{Find: "\treturn a -b", Replace: "x"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, report.Edits[0].Suggestions)
	assert.LessOrEqual(t, len(report.Edits[0].Suggestions), 2)
	assert.Contains(t, report.Edits[0].Suggestions[0], "return a - b")
}

func TestFuzzyEditValidation(t *testing.T) {
	l := newTestLocal(t)
	path := writeFuzzySample(t)

	_, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{Path: "", Mode: ModeStrict})
	assert.Error(t, err)

	_, err = l.FuzzyEdit(context.Background(), &FuzzyEditRequest{Path: path, Mode: "creative"})
	assert.Error(t, err)

	// Empty find text fails the edit, not the run.
	report, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path:  path,
		Mode:  ModeStrict,
		Edits: []EditPair{{Find: "", Replace: "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.AppliedCount)
	assert.Contains(t, report.Edits[0].Error, "empty find")
}

func TestFuzzyEditMissingFile(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.FuzzyEdit(context.Background(), &FuzzyEditRequest{
		Path:  filepath.Join(t.TempDir(), "ghost.go"),
		Mode:  ModeStrict,
		Edits: []EditPair{{Find: "a", Replace: "b"}},
	})
	assert.Error(t, err)
}
