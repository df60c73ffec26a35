package fileops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// metaSuffix is appended to a backup file to form its sidecar metadata path.
const metaSuffix = ".meta.json"

// LocalBackups keeps backups under a single directory, one data file plus
// one JSON sidecar per backup.
type LocalBackups struct {
	dir string
	now func() time.Time
}

// NewLocalBackups creates the manager, creating dir if absent.
func NewLocalBackups(dir string) (*LocalBackups, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aibridge-backups")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	return &LocalBackups{dir: dir, now: time.Now}, nil
}

// Create snapshots path into the backup directory. Missing originals are an
// error; callers decide whether a missing file needs a backup at all.
func (b *LocalBackups) Create(path string) (*BackupInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading original: %w", err)
	}

	createdAt := b.now()
	id := fmt.Sprintf("%s-%s", createdAt.Format("20060102-150405"), uuid.NewString()[:8])
	backupPath := filepath.Join(b.dir, id+".bak")

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing backup: %w", err)
	}

	info := &BackupInfo{
		ID:           id,
		OriginalPath: path,
		BackupPath:   backupPath,
		CreatedAt:    createdAt,
		Size:         int64(len(data)),
	}
	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(backupPath+metaSuffix, meta, 0o644); err != nil {
		return nil, fmt.Errorf("writing backup metadata: %w", err)
	}
	return info, nil
}

// Restore copies a backup's content back to its original path.
func (b *LocalBackups) Restore(id string) error {
	info, err := b.load(id)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(info.BackupPath)
	if err != nil {
		return fmt.Errorf("reading backup %s: %w", id, err)
	}
	if err := os.MkdirAll(filepath.Dir(info.OriginalPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(info.OriginalPath, data, 0o644)
}

// List returns all backups, newest first.
func (b *LocalBackups) List() ([]*BackupInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var out []*BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), metaSuffix), ".bak")
		info, err := b.load(id)
		if err != nil {
			continue // orphaned sidecar; skip
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Cleanup deletes backups older than the retention window, returning how
// many were removed.
func (b *LocalBackups) Cleanup(olderThan time.Duration) (int, error) {
	infos, err := b.List()
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-olderThan)
	removed := 0
	for _, info := range infos {
		if info.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(info.BackupPath); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		if err := os.Remove(info.BackupPath + metaSuffix); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (b *LocalBackups) load(id string) (*BackupInfo, error) {
	meta, err := os.ReadFile(filepath.Join(b.dir, id+".bak"+metaSuffix))
	if err != nil {
		return nil, fmt.Errorf("backup %s not found: %w", id, err)
	}
	var info BackupInfo
	if err := json.Unmarshal(meta, &info); err != nil {
		return nil, fmt.Errorf("backup %s metadata corrupt: %w", id, err)
	}
	return &info, nil
}
