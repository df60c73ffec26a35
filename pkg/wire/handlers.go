package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/fileops"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/orchestrator"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
)

// analyzeFileLimit bounds how much of a file is inlined into a prompt.
const analyzeFileLimit = 32 * 1024

func (d *Dispatcher) handleAsk(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Prompt      string  `json:"prompt"`
		Backend     string  `json:"backend,omitempty"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
		Temperature float64 `json:"temperature,omitempty"`
		Thinking    bool    `json:"enable_thinking,omitempty"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, bridge.NewError(bridge.KindInvalidInput, "empty prompt")
	}

	resp, err := d.router.Execute(ctx, &router.Request{
		Prompt:    req.Prompt,
		Preferred: req.Backend,
		Options: &backend.Options{
			MaxTokens:      req.MaxTokens,
			Temperature:    req.Temperature,
			EnableThinking: req.Thinking,
		},
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": resp}, nil
}

func (d *Dispatcher) handleReview(ctx context.Context, args json.RawMessage) (any, error) {
	return d.roleTool(ctx, args, roles.RoleCodeReviewer)
}

func (d *Dispatcher) handleExplore(ctx context.Context, args json.RawMessage) (any, error) {
	return d.roleTool(ctx, args, roles.RoleArchitect)
}

// roleTool runs a fixed-role subagent over {task, file_patterns?, context?}.
func (d *Dispatcher) roleTool(ctx context.Context, args json.RawMessage, role string) (any, error) {
	var req struct {
		Task         string         `json:"task"`
		FilePatterns []string       `json:"file_patterns,omitempty"`
		Context      map[string]any `json:"context,omitempty"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, bridge.NewError(bridge.KindInvalidInput, "empty task")
	}
	result, err := d.executor.Execute(ctx, &roles.SubagentRequest{
		Role:         role,
		Task:         req.Task,
		FilePatterns: req.FilePatterns,
		Context:      req.Context,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func (d *Dispatcher) handleAnalyzeFile(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Path     string `json:"path"`
		Question string `json:"question,omitempty"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if req.Path == "" {
		return nil, bridge.NewError(bridge.KindInvalidInput, "empty path")
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "reading %s: %v", req.Path, err)
	}
	content := string(data)
	if len(content) > analyzeFileLimit {
		content = content[:analyzeFileLimit] + "\n… (truncated)"
	}

	question := req.Question
	if question == "" {
		question = "Analyze this file: structure, purpose, and any problems."
	}
	task := fmt.Sprintf("%s\n\nFile %s:\n```\n%s\n```", question, req.Path, content)

	result, err := d.executor.Execute(ctx, &roles.SubagentRequest{
		Role: roles.RoleCodeReviewer,
		Task: task,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func (d *Dispatcher) handleHealth(ctx context.Context, args json.RawMessage) (any, error) {
	reg := d.router.Registry()
	return map[string]any{
		"backends":   reg.AllHealth(),
		"chain":      reg.Chain(),
		"pool":       d.router.Pool().Stats(),
		"rate_limit": d.limiter.Snapshot(),
	}, nil
}

func (d *Dispatcher) handleSubagent(ctx context.Context, args json.RawMessage) (any, error) {
	var req roles.SubagentRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	result, err := d.executor.Execute(ctx, &req)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func (d *Dispatcher) handleParallelAgents(ctx context.Context, args json.RawMessage) (any, error) {
	var req orchestrator.RunRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	report, err := d.orch.Run(ctx, &req)
	if err != nil {
		// A failed quality gate still carries a report worth returning.
		if report != nil && bridge.IsKind(err, bridge.KindQualityGateFailed) {
			return map[string]any{"report": report, "quality_gate_failed": true}, err
		}
		return nil, err
	}
	return map[string]any{"report": report}, nil
}

func (d *Dispatcher) handleWriteFiles(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Operations   []fileops.WriteOp `json:"operations"`
		CreateBackup bool              `json:"create_backup"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	results, err := d.files.AtomicMultiWrite(ctx, req.Operations, req.CreateBackup)
	if err != nil {
		return map[string]any{"operations": results}, bridge.NewError(
			bridge.KindInvalidInput, "atomic write failed: %v", err)
	}
	return map[string]any{"operations": results}, nil
}

func (d *Dispatcher) handleFuzzyEdit(ctx context.Context, args json.RawMessage) (any, error) {
	var req fileops.FuzzyEditRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}

	rawEdits := make([]guard.FuzzyEdit, len(req.Edits))
	for i, e := range req.Edits {
		rawEdits[i] = guard.FuzzyEdit{Find: e.Find, Replace: e.Replace}
	}
	if validation := d.validator.ValidateEdits(rawEdits); !validation.Valid {
		return map[string]any{"validation": validation}, bridge.NewError(
			bridge.KindInvalidInput, "edits rejected: %s", strings.Join(validation.Errors, "; "))
	}

	report, err := d.files.FuzzyEdit(ctx, &req)
	if err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "fuzzy edit: %v", err)
	}
	return map[string]any{"report": report}, nil
}

func (d *Dispatcher) handleBackupCreate(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, err := d.files.Backups().Create(req.Path)
	if err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "backup: %v", err)
	}
	return map[string]any{"backup": info}, nil
}

func (d *Dispatcher) handleBackupRestore(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if err := d.files.Backups().Restore(req.ID); err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "restore: %v", err)
	}
	return map[string]any{"restored": req.ID}, nil
}

func (d *Dispatcher) handleBackupList(ctx context.Context, args json.RawMessage) (any, error) {
	infos, err := d.files.Backups().List()
	if err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "listing backups: %v", err)
	}
	return map[string]any{"backups": infos}, nil
}

func (d *Dispatcher) handleBackupCleanup(ctx context.Context, args json.RawMessage) (any, error) {
	var req struct {
		OlderThan string `json:"older_than,omitempty"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &req); err != nil {
			return nil, bridge.NewError(bridge.KindInvalidInput, "bad arguments: %v", err)
		}
	}
	age, err := fmtBackupAge(req.OlderThan)
	if err != nil {
		return nil, err
	}
	removed, err := d.files.Backups().Cleanup(age)
	if err != nil {
		return nil, bridge.NewError(bridge.KindInvalidInput, "cleanup: %v", err)
	}
	return map[string]any{"removed": removed}, nil
}
