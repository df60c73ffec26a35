// Package fileops defines the file-operation contracts through which the
// gateway mutates files, plus a local-filesystem implementation. All file
// mutation flows through these interfaces; nothing else in the gateway
// touches the filesystem directly.
package fileops

import (
	"context"
	"time"
)

// Write operation types.
const (
	OpWrite      = "write"
	OpAppend     = "append"
	OpModifyFull = "modify-full-content"
)

// Fuzzy edit modes.
const (
	ModeStrict = "strict"
	ModeLenient = "lenient"
	ModeDryRun  = "dry-run"
)

// WriteOp is one entry in an atomic multi-write batch.
type WriteOp struct {
	Type    string `json:"type"` // write | append | modify-full-content
	Path    string `json:"path"`
	Content string `json:"content"`
}

// OpResult reports one operation's outcome.
type OpResult struct {
	Path    string `json:"path"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Bytes   int    `json:"bytes_written,omitempty"`
	Backup  string `json:"backup,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FuzzyEditRequest describes one fuzzy find/replace run against a file.
type FuzzyEditRequest struct {
	Path               string      `json:"path"`
	Edits              []EditPair  `json:"edits"`
	Mode               string      `json:"mode"` // strict | lenient | dry-run
	Threshold          float64     `json:"threshold,omitempty"`
	MaxSuggestions     int         `json:"max_suggestions,omitempty"`
	SuggestAlternatives bool       `json:"suggest_alternatives,omitempty"`
}

// EditPair is one find/replace pair.
type EditPair struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// EditOutcome reports one edit's result.
type EditOutcome struct {
	Index       int      `json:"index"`
	Applied     bool     `json:"applied"`
	Exact       bool     `json:"exact_match"`
	Similarity  float64  `json:"similarity,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// FuzzyReport is the outcome of a fuzzy-edit run.
type FuzzyReport struct {
	Path         string        `json:"path"`
	Mode         string        `json:"mode"`
	AppliedCount int           `json:"applied_count"`
	Edits        []EditOutcome `json:"edits"`
	Backup       string        `json:"backup,omitempty"`
	DryRun       bool          `json:"dry_run"`
	Preview      string        `json:"preview,omitempty"`
}

// BackupInfo is the sidecar metadata carried by every backup.
type BackupInfo struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	CreatedAt    time.Time `json:"created_at"`
	Size         int64     `json:"size"`
}

// Writer performs atomic multi-file writes.
type Writer interface {
	// AtomicMultiWrite applies all operations or, on any failure, restores
	// every already-written file from its backup. Parent directories are
	// created as needed.
	AtomicMultiWrite(ctx context.Context, ops []WriteOp, createBackup bool) ([]OpResult, error)
}

// FuzzyEditor applies find/replace edits with optional approximate matching.
type FuzzyEditor interface {
	FuzzyEdit(ctx context.Context, req *FuzzyEditRequest) (*FuzzyReport, error)
}

// BackupManager owns backup lifecycle.
type BackupManager interface {
	Create(path string) (*BackupInfo, error)
	Restore(id string) error
	List() ([]*BackupInfo, error)
	Cleanup(olderThan time.Duration) (int, error)
}

// Resolver expands glob patterns to concrete file paths.
type Resolver interface {
	Resolve(patterns []string) ([]string, error)
}
