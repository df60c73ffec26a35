// Package orchestrator runs parallel TDD agent swarms: it decomposes a task
// into phase groups, executes them with bounded parallelism, quality-gates
// the results, and synthesizes a final report.
package orchestrator

import "time"

// TDD phases. RED groups run strictly before GREEN, GREEN before REFACTOR.
const (
	PhaseRed      = "RED"
	PhaseGreen    = "GREEN"
	PhaseRefactor = "REFACTOR"
)

// Quality gate verdicts.
const (
	VerdictPass    = "pass"
	VerdictIterate = "iterate"
	VerdictError   = "error"
)

// Task is one unit of decomposed work.
type Task struct {
	ID    string `json:"id"`
	Phase string `json:"phase"`
	Task  string `json:"task"`
	// Agent optionally pins the role; empty means derive from phase.
	Agent string `json:"agent,omitempty"`
}

// Group is one batch of tasks executed concurrently.
type Group struct {
	Group int    `json:"group"`
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// Decomposition is the decomposer's output shape.
type Decomposition struct {
	ParallelGroups []Group `json:"parallel_groups"`

	// Reorganized marks that phase-based regrouping rewrote the decomposer's
	// own grouping.
	Reorganized bool `json:"_reorganized,omitempty"`
}

// TaskResult records one task execution.
type TaskResult struct {
	TaskID       string `json:"task_id"`
	RunID        string `json:"run_id"`
	Phase        string `json:"phase"`
	Role         string `json:"role"`
	Success      bool   `json:"success"`
	Response     string `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`
	Backend      string `json:"backend,omitempty"`
	ProcessingMS int64  `json:"processing_time_ms"`
	Retry        bool   `json:"retry"`
}

// QualityRecord is the reviewer's judgment of one iteration.
type QualityRecord struct {
	Verdict    string              `json:"verdict"`
	Score      int                 `json:"score"`
	Issues     []string            `json:"issues,omitempty"`
	RetryTasks []string            `json:"retry_tasks,omitempty"`
	TaskIssues map[string][]string `json:"task_issues,omitempty"`
}

// TaskSummary is the per-task line in the synthesis artifact.
type TaskSummary struct {
	TaskID  string `json:"task_id"`
	Phase   string `json:"phase"`
	Role    string `json:"role"`
	Success bool   `json:"success"`
	Backend string `json:"backend,omitempty"`
	Preview string `json:"preview,omitempty"`
	Retried bool   `json:"retried"`
}

// RunRequest starts one parallel-agents run.
type RunRequest struct {
	Task string `json:"task"`

	// MaxParallel overrides slot discovery; zero means discover.
	MaxParallel int `json:"max_parallel,omitempty"`

	// WorkDir overrides the default per-run directory.
	WorkDir string `json:"work_dir,omitempty"`

	// DisableQualityGate skips the review loop.
	DisableQualityGate bool `json:"disable_quality_gate,omitempty"`
}

// RunReport is the synthesis of one run.
type RunReport struct {
	WorkDir        string        `json:"work_dir"`
	MaxParallel    int           `json:"max_parallel"`
	TasksTotal     int           `json:"tasks_total"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	Iterations     int           `json:"iterations"`
	QualityVerdict string        `json:"quality_verdict,omitempty"`
	QualityScore   int           `json:"quality_score,omitempty"`
	Tasks          []TaskSummary `json:"tasks"`
	Duration       time.Duration `json:"duration"`
}
