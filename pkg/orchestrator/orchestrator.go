package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/jsonrepair"
	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
)

// hardParallelCap bounds parallelism regardless of discovery or request.
const hardParallelCap = 10

// Truncation bounds for prompts and artifacts.
const (
	reviewPreviewChars    = 500
	synthesisPreviewChars = 200
)

// SlotProber reports the local endpoint's advertised parallelism.
// Implemented by the local backend adapter.
type SlotProber interface {
	Slots(ctx context.Context) int
}

// Orchestrator coordinates parallel-agents runs.
type Orchestrator struct {
	executor *roles.Executor
	pool     *guard.Pool
	prober   SlotProber // nil when no local backend is registered
	cfg      config.OrchestratorConfig
}

// New wires an orchestrator.
func New(executor *roles.Executor, pool *guard.Pool, prober SlotProber, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{executor: executor, pool: pool, prober: prober, cfg: cfg}
}

// Run executes one parallel-agents invocation end to end. A failed quality
// gate still returns the report, paired with a classified error.
func (o *Orchestrator) Run(ctx context.Context, req *RunRequest) (*RunReport, error) {
	started := time.Now()

	if strings.TrimSpace(req.Task) == "" {
		return nil, bridge.NewError(bridge.KindInvalidInput, "empty task")
	}

	workDir, err := o.ensureWorkDir(req.WorkDir)
	if err != nil {
		return nil, err
	}

	// Stage 1: capacity.
	maxParallel := o.capacity(ctx, req.MaxParallel)
	o.pool.Resize(maxParallel)
	slog.Info("Parallel-agents run starting",
		"work_dir", workDir, "max_parallel", maxParallel)

	// Stage 2: decomposition. Failure here fails the whole run.
	decomp, err := o.decompose(ctx, req.Task, maxParallel)
	if err != nil {
		return nil, err
	}

	// Stage 3: phase regrouping.
	decomp = regroup(decomp, maxParallel)
	if err := writeArtifact(workDir, "decomposed.json", decomp); err != nil {
		return nil, err
	}

	// Stage 4: execution.
	results := make(map[string]*TaskResult)
	for _, group := range decomp.ParallelGroups {
		o.runGroup(ctx, group, maxParallel, results, false)
		if err := writeArtifact(workDir, "results.json", sortedResults(results)); err != nil {
			return nil, err
		}
	}

	// Stage 5: quality gate.
	iterations := 0
	var quality *QualityRecord
	if !req.DisableQualityGate {
		quality, iterations = o.qualityLoop(ctx, workDir, decomp, results, maxParallel)
	}

	// Stage 6: synthesis.
	report := o.synthesize(workDir, maxParallel, results, quality, iterations, time.Since(started))
	if err := writeArtifact(workDir, "synthesis.json", report); err != nil {
		return nil, err
	}

	if quality != nil && quality.Verdict != VerdictPass {
		return report, bridge.NewError(bridge.KindQualityGateFailed,
			"quality gate did not pass after %d iterations (score %d)", iterations, quality.Score)
	}
	return report, nil
}

// capacity resolves the run's parallelism: caller's value, else the local
// endpoint's slot count, clamped to the configured and hard caps.
func (o *Orchestrator) capacity(ctx context.Context, requested int) int {
	n := requested
	if n <= 0 && o.prober != nil {
		n = o.prober.Slots(ctx)
	}
	if n <= 0 {
		n = 1
	}
	if o.cfg.MaxParallel > 0 && n > o.cfg.MaxParallel {
		n = o.cfg.MaxParallel
	}
	if n > hardParallelCap {
		n = hardParallelCap
	}
	return n
}

// decompose asks the decomposer role for phase groups and parses tolerantly.
func (o *Orchestrator) decompose(ctx context.Context, task string, maxParallel int) (*Decomposition, error) {
	result, err := o.executor.Execute(ctx, &roles.SubagentRequest{
		Role:      roles.RoleTaskDecomposer,
		Task:      task,
		SlotCount: maxParallel,
		Priority:  guard.PriorityHigh,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition failed: %w", err)
	}

	var decomp Decomposition
	if err := jsonrepair.Parse(result.Response.Content, &decomp); err != nil {
		return nil, bridge.NewError(bridge.KindProtocolMismatch,
			"decomposer output unparseable: %v", err)
	}
	if len(decomp.ParallelGroups) == 0 {
		return nil, bridge.NewError(bridge.KindProtocolMismatch,
			"decomposer returned no groups")
	}
	return &decomp, nil
}

// regroup flattens the decomposition and rebatches strictly by phase:
// all RED tasks first, then GREEN, then REFACTOR, each split into batches of
// maxParallel. This holds regardless of how the decomposer nested tasks.
func regroup(decomp *Decomposition, maxParallel int) *Decomposition {
	byPhase := map[string][]Task{}
	for _, group := range decomp.ParallelGroups {
		for _, task := range group.Tasks {
			phase := strings.ToUpper(strings.TrimSpace(task.Phase))
			switch phase {
			case PhaseRed, PhaseGreen, PhaseRefactor:
			default:
				phase = PhaseGreen
			}
			task.Phase = phase
			byPhase[phase] = append(byPhase[phase], task)
		}
	}

	out := &Decomposition{Reorganized: true}
	groupNum := 0
	for _, phase := range []string{PhaseRed, PhaseGreen, PhaseRefactor} {
		tasks := byPhase[phase]
		for start := 0; start < len(tasks); start += maxParallel {
			end := start + maxParallel
			if end > len(tasks) {
				end = len(tasks)
			}
			groupNum++
			out.ParallelGroups = append(out.ParallelGroups, Group{
				Group: groupNum,
				Name:  fmt.Sprintf("%s batch %d", phase, groupNum),
				Tasks: tasks[start:end],
			})
		}
	}
	return out
}

// runGroup executes one group's tasks concurrently and records results.
// Per-task failure never aborts the group.
func (o *Orchestrator) runGroup(ctx context.Context, group Group, maxParallel int, results map[string]*TaskResult, retry bool) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for _, task := range group.Tasks {
		task := task
		g.Go(func() error {
			res := o.runTask(gctx, group.Group, task, retry, "")
			mu.Lock()
			results[task.ID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in results
}

// runTask executes one task through the subagent executor.
func (o *Orchestrator) runTask(ctx context.Context, groupID int, task Task, retry bool, feedback string) *TaskResult {
	runID := fmt.Sprintf("%d-%s-%d", groupID, task.ID, time.Now().UnixNano())
	role := roleForPhase(task.Phase)
	if task.Agent != "" {
		role = task.Agent
	}

	prompt := task.Task
	if feedback != "" {
		prompt = feedback
	}

	result := &TaskResult{
		TaskID: task.ID,
		RunID:  runID,
		Phase:  task.Phase,
		Role:   role,
		Retry:  retry,
	}

	sub, err := o.executor.Execute(ctx, &roles.SubagentRequest{
		Role: role,
		Task: prompt,
	})
	if err != nil {
		result.Error = err.Error()
		metrics.OrchestratorTasks.WithLabelValues(task.Phase, "error").Inc()
		slog.Warn("Task failed", "task", task.ID, "phase", task.Phase, "error", err)
		return result
	}

	result.Success = true
	result.Response = sub.Response.Content
	result.Backend = sub.Backend
	result.ProcessingMS = sub.ProcessingMS
	metrics.OrchestratorTasks.WithLabelValues(task.Phase, "success").Inc()
	return result
}

// roleForPhase maps a TDD phase to its worker role.
func roleForPhase(phase string) string {
	switch phase {
	case PhaseRed:
		return roles.RoleTestWriter
	case PhaseRefactor:
		return roles.RoleRefactorSpecialist
	default:
		return roles.RoleImplementer
	}
}

// qualityLoop runs reviewer iterations, re-executing flagged tasks with
// targeted feedback until pass or the iteration cap.
func (o *Orchestrator) qualityLoop(ctx context.Context, workDir string, decomp *Decomposition, results map[string]*TaskResult, maxParallel int) (*QualityRecord, int) {
	maxIterations := o.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = config.DefaultQualityIterations
	}

	taskIndex := indexTasks(decomp)
	var record *QualityRecord

	iterations := 0
	for iterations < maxIterations {
		iterations++
		record = o.review(ctx, results)
		if err := writeArtifact(workDir, fmt.Sprintf("quality-%d.json", iterations), record); err != nil {
			slog.Error("Writing quality artifact failed", "error", err)
		}
		if record.Verdict == VerdictPass || len(record.RetryTasks) == 0 {
			break
		}
		if iterations >= maxIterations {
			break
		}

		for _, taskID := range record.RetryTasks {
			task, ok := taskIndex[taskID]
			if !ok {
				slog.Warn("Reviewer flagged unknown task", "task", taskID)
				continue
			}
			prior := results[taskID]
			feedback := retryPrompt(task, record, prior)
			res := o.runTask(ctx, 0, task, true, feedback)
			results[taskID] = res
		}
		if err := writeArtifact(workDir, "results.json", sortedResults(results)); err != nil {
			slog.Error("Writing results artifact failed", "error", err)
		}
	}
	return record, iterations
}

// review submits the aggregated results to the quality reviewer. A reviewer
// failure is an iterate verdict with score zero.
func (o *Orchestrator) review(ctx context.Context, results map[string]*TaskResult) *QualityRecord {
	var b strings.Builder
	for _, res := range sortedResults(results) {
		fmt.Fprintf(&b, "Task %s [%s] role=%s success=%v\n", res.TaskID, res.Phase, res.Role, res.Success)
		if res.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", res.Error)
		}
		if res.Response != "" {
			fmt.Fprintf(&b, "Output: %s\n", truncate(res.Response, reviewPreviewChars))
		}
		b.WriteString("\n")
	}

	sub, err := o.executor.Execute(ctx, &roles.SubagentRequest{
		Role:     roles.RoleQualityReviewer,
		Task:     b.String(),
		Priority: guard.PriorityHigh,
	})
	if err != nil {
		slog.Warn("Quality review failed, forcing iterate", "error", err)
		return &QualityRecord{Verdict: VerdictIterate, Score: 0, Issues: []string{err.Error()}}
	}

	var record QualityRecord
	if err := jsonrepair.Parse(sub.Response.Content, &record); err != nil {
		slog.Warn("Quality review output unparseable, forcing iterate", "error", err)
		return &QualityRecord{Verdict: VerdictIterate, Score: 0, Issues: []string{err.Error()}}
	}
	record.Verdict = strings.ToLower(strings.TrimSpace(record.Verdict))
	if record.Verdict != VerdictPass {
		record.Verdict = VerdictIterate
	}
	return &record
}

// retryPrompt assembles the re-execution prompt: the original task, the
// reviewer's task-specific feedback, and a bounded preview of the prior
// output.
func retryPrompt(task Task, record *QualityRecord, prior *TaskResult) string {
	var b strings.Builder
	b.WriteString(task.Task)
	b.WriteString("\n\nThis is a retry. Address the following review feedback:\n")
	if issues, ok := record.TaskIssues[task.ID]; ok {
		for _, issue := range issues {
			b.WriteString("- ")
			b.WriteString(issue)
			b.WriteString("\n")
		}
	}
	for _, issue := range record.Issues {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
	if prior != nil && prior.Response != "" {
		b.WriteString("\nPrevious output (truncated):\n")
		b.WriteString(truncate(prior.Response, reviewPreviewChars))
		b.WriteString("\n")
	}
	return b.String()
}

// synthesize builds the final report.
func (o *Orchestrator) synthesize(workDir string, maxParallel int, results map[string]*TaskResult, quality *QualityRecord, iterations int, duration time.Duration) *RunReport {
	report := &RunReport{
		WorkDir:     workDir,
		MaxParallel: maxParallel,
		Iterations:  iterations,
		Duration:    duration,
	}
	for _, res := range sortedResults(results) {
		report.TasksTotal++
		if res.Success {
			report.TasksCompleted++
		} else {
			report.TasksFailed++
		}
		report.Tasks = append(report.Tasks, TaskSummary{
			TaskID:  res.TaskID,
			Phase:   res.Phase,
			Role:    res.Role,
			Success: res.Success,
			Backend: res.Backend,
			Preview: truncate(res.Response, synthesisPreviewChars),
			Retried: res.Retry,
		})
	}
	if quality != nil {
		report.QualityVerdict = quality.Verdict
		report.QualityScore = quality.Score
	}
	return report
}

func (o *Orchestrator) ensureWorkDir(override string) (string, error) {
	dir := override
	if dir == "" {
		base := o.cfg.WorkDirBase
		if base == "" {
			base = os.TempDir()
		}
		dir = filepath.Join(base, fmt.Sprintf("parallel-agents-%d", time.Now().UnixNano()))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	return dir, nil
}

func indexTasks(decomp *Decomposition) map[string]Task {
	out := map[string]Task{}
	for _, group := range decomp.ParallelGroups {
		for _, task := range group.Tasks {
			out[task.ID] = task
		}
	}
	return out
}

func sortedResults(results map[string]*TaskResult) []*TaskResult {
	out := make([]*TaskResult, 0, len(results))
	for _, res := range results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func writeArtifact(dir, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
