package fileops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Local is the local-filesystem implementation of the file-op contracts.
type Local struct {
	backups *LocalBackups
}

// NewLocal wires the implementation around a backup manager.
func NewLocal(backups *LocalBackups) *Local {
	return &Local{backups: backups}
}

// Backups exposes the backup manager for the wire surface.
func (l *Local) Backups() *LocalBackups { return l.backups }

// AtomicMultiWrite applies the batch. With createBackup set, every existing
// target is backed up first; on any operation failure all already-written
// files are restored from those backups and the batch reports failure.
func (l *Local) AtomicMultiWrite(ctx context.Context, ops []WriteOp, createBackup bool) ([]OpResult, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("empty operation list")
	}

	backups := make(map[string]*BackupInfo)
	if createBackup {
		for _, op := range ops {
			if _, exists := backups[op.Path]; exists {
				continue
			}
			if _, err := os.Stat(op.Path); err != nil {
				continue // nothing to back up
			}
			info, err := l.backups.Create(op.Path)
			if err != nil {
				return nil, fmt.Errorf("backing up %s: %w", op.Path, err)
			}
			backups[op.Path] = info
		}
	}

	results := make([]OpResult, 0, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			l.rollback(results, backups)
			return nil, err
		}
		res := l.apply(op)
		if info, ok := backups[op.Path]; ok {
			res.Backup = info.ID
		}
		results = append(results, res)
		if !res.Success {
			l.rollback(results, backups)
			return results, fmt.Errorf("operation %d (%s %s) failed: %s, batch rolled back",
				i, op.Type, op.Path, res.Error)
		}
	}
	return results, nil
}

func (l *Local) apply(op WriteOp) OpResult {
	res := OpResult{Path: op.Path, Type: op.Type}

	if op.Path == "" {
		res.Error = "empty path"
		return res
	}
	if err := os.MkdirAll(filepath.Dir(op.Path), 0o755); err != nil {
		res.Error = err.Error()
		return res
	}

	switch op.Type {
	case OpWrite, OpModifyFull:
		if err := os.WriteFile(op.Path, []byte(op.Content), 0o644); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Bytes = len(op.Content)
	case OpAppend:
		f, err := os.OpenFile(op.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		n, err := f.WriteString(op.Content)
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Bytes = n
	default:
		res.Error = fmt.Sprintf("unknown operation type %q", op.Type)
		return res
	}

	res.Success = true
	return res
}

// rollback restores every already-written file from its pre-batch backup.
// Files that did not exist before the batch are removed.
func (l *Local) rollback(applied []OpResult, backups map[string]*BackupInfo) {
	restored := make(map[string]bool)
	for _, res := range applied {
		if !res.Success || restored[res.Path] {
			continue
		}
		restored[res.Path] = true
		if info, ok := backups[res.Path]; ok {
			if err := l.backups.Restore(info.ID); err != nil {
				slog.Error("Rollback restore failed", "path", res.Path, "error", err)
			}
			continue
		}
		if err := os.Remove(res.Path); err != nil && !os.IsNotExist(err) {
			slog.Error("Rollback remove failed", "path", res.Path, "error", err)
		}
	}
}

// Resolve expands glob patterns into a deduplicated, sorted file list.
// Non-matching patterns contribute nothing; a malformed pattern is an error.
func (l *Local) Resolve(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
