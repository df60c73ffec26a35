package fileops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackups(t *testing.T) *LocalBackups {
	t.Helper()
	b, err := NewLocalBackups(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	return b
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupCreateAndRestore(t *testing.T) {
	b := newTestBackups(t)
	path := writeTemp(t, "config.yaml", "original content")

	info, err := b.Create(path)
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, path, info.OriginalPath)
	assert.Equal(t, int64(len("original content")), info.Size)
	assert.FileExists(t, info.BackupPath)
	assert.FileExists(t, info.BackupPath+metaSuffix)

	require.NoError(t, os.WriteFile(path, []byte("clobbered"), 0o644))
	require.NoError(t, b.Restore(info.ID))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original content", string(data))
}

func TestBackupCreateMissingOriginal(t *testing.T) {
	b := newTestBackups(t)
	_, err := b.Create(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	assert.Error(t, err)
}

func TestBackupRestoreUnknownID(t *testing.T) {
	b := newTestBackups(t)
	err := b.Restore("20990101-000000-deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBackupListNewestFirst(t *testing.T) {
	b := newTestBackups(t)
	current := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	first := writeTemp(t, "a.txt", "aaa")
	second := writeTemp(t, "b.txt", "bbb")

	_, err := b.Create(first)
	require.NoError(t, err)
	current = current.Add(time.Hour)
	_, err = b.Create(second)
	require.NoError(t, err)

	infos, err := b.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, second, infos[0].OriginalPath)
	assert.Equal(t, first, infos[1].OriginalPath)
}

func TestBackupCleanup(t *testing.T) {
	b := newTestBackups(t)
	current := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	old := writeTemp(t, "old.txt", "old")
	fresh := writeTemp(t, "fresh.txt", "fresh")

	oldInfo, err := b.Create(old)
	require.NoError(t, err)
	current = current.Add(10 * 24 * time.Hour)
	_, err = b.Create(fresh)
	require.NoError(t, err)

	removed, err := b.Cleanup(7 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldInfo.BackupPath)

	infos, err := b.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, fresh, infos[0].OriginalPath)
}
