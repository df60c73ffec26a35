package fileops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	return NewLocal(newTestBackups(t))
}

func TestAtomicMultiWriteApplies(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()

	ops := []WriteOp{
		{Type: OpWrite, Path: filepath.Join(dir, "nested", "a.go"), Content: "package a\n"},
		{Type: OpAppend, Path: filepath.Join(dir, "log.txt"), Content: "line one\n"},
		{Type: OpAppend, Path: filepath.Join(dir, "log.txt"), Content: "line two\n"},
	}

	results, err := l.AtomicMultiWrite(context.Background(), ops, false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		assert.True(t, res.Success)
	}

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))

	assert.FileExists(t, filepath.Join(dir, "nested", "a.go"))
}

func TestAtomicMultiWriteEmptyBatch(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.AtomicMultiWrite(context.Background(), nil, false)
	assert.Error(t, err)
}

func TestAtomicMultiWriteRollback(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()

	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("before"), 0o644))
	fresh := filepath.Join(dir, "fresh.txt")

	ops := []WriteOp{
		{Type: OpWrite, Path: existing, Content: "after"},
		{Type: OpWrite, Path: fresh, Content: "new file"},
		{Type: "teleport", Path: filepath.Join(dir, "x"), Content: ""},
	}

	results, err := l.AtomicMultiWrite(context.Background(), ops, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled back")
	require.Len(t, results, 3)
	assert.False(t, results[2].Success)

	// Pre-existing file restored, new file removed.
	data, readErr := os.ReadFile(existing)
	require.NoError(t, readErr)
	assert.Equal(t, "before", string(data))
	assert.NoFileExists(t, fresh)
}

func TestAtomicMultiWriteBackupIDsReported(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()

	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("v1"), 0o644))

	results, err := l.AtomicMultiWrite(context.Background(), []WriteOp{
		{Type: OpModifyFull, Path: existing, Content: "v2"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Backup)

	// The backup preserves the pre-batch content.
	require.NoError(t, l.Backups().Restore(results[0].Backup))
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestAtomicMultiWriteCancelledContext(t *testing.T) {
	l := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.AtomicMultiWrite(ctx, []WriteOp{
		{Type: OpWrite, Path: filepath.Join(t.TempDir(), "a.txt"), Content: "x"},
	}, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveDedupesAndSorts(t *testing.T) {
	l := newTestLocal(t)
	dir := t.TempDir()
	for _, name := range []string{"b.go", "a.go", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.go"), 0o755)) // dirs are skipped

	files, err := l.Resolve([]string{
		filepath.Join(dir, "*.go"),
		filepath.Join(dir, "a.go"), // duplicate of the glob match
		filepath.Join(dir, "*.md"), // matches nothing
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")}, files)
}

func TestResolveBadPattern(t *testing.T) {
	l := newTestLocal(t)
	_, err := l.Resolve([]string{"[unclosed"})
	assert.Error(t, err)
}
