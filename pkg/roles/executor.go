package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/capability"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
	"github.com/Platano78/smart-ai-bridge/pkg/verdict"
)

// FileResolver expands file patterns into concrete paths. Implemented by the
// external editor collaborator.
type FileResolver interface {
	Resolve(patterns []string) ([]string, error)
}

// SubagentRequest describes one role-driven execution.
type SubagentRequest struct {
	Role         string         `json:"role"`
	Task         string         `json:"task"`
	FilePatterns []string       `json:"file_patterns,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	OutputFormat string         `json:"output_format,omitempty"`

	// SlotCount substitutes the slot-count placeholder in role templates.
	SlotCount int `json:"slot_count,omitempty"`

	Priority guard.Priority `json:"-"`
}

// SubagentResult is a completed subagent execution.
type SubagentResult struct {
	Role         string           `json:"role"`
	ResolvedRole string           `json:"resolved_role,omitempty"`
	Backend      string           `json:"backend"`
	Response     *bridge.Response `json:"response"`
	Verdict      *verdict.Verdict `json:"verdict,omitempty"`
	ProcessingMS int64            `json:"processing_time_ms"`
}

// Executor runs subagent requests: role resolution, prompt assembly, routed
// execution, verdict extraction.
type Executor struct {
	registry *Registry
	router   *router.Router
	files    FileResolver
}

// NewExecutor wires an executor.
func NewExecutor(registry *Registry, rt *router.Router, files FileResolver) *Executor {
	return &Executor{registry: registry, router: rt, files: files}
}

// Execute runs one subagent request end to end.
func (e *Executor) Execute(ctx context.Context, req *SubagentRequest) (*SubagentResult, error) {
	started := time.Now()

	role, err := e.registry.Get(req.Role)
	if err != nil {
		metrics.SubagentCalls.WithLabelValues(req.Role, "error").Inc()
		return nil, err
	}
	metrics.SubagentCalls.WithLabelValues(role.Name, "attempt").Inc()

	resolvedFrom := ""
	if role.Meta {
		resolved, rerr := e.resolveAuto(ctx, req.Task)
		if rerr != nil {
			slog.Warn("Auto role selection failed, using default",
				"default", RoleCodeReviewer, "error", rerr)
			resolved = RoleCodeReviewer
		}
		resolvedFrom = role.Name
		role, err = e.registry.Get(resolved)
		if err != nil {
			metrics.SubagentCalls.WithLabelValues(resolvedFrom, "error").Inc()
			return nil, err
		}
	}

	prompt, err := e.composePrompt(role, req)
	if err != nil {
		metrics.SubagentCalls.WithLabelValues(role.Name, "error").Inc()
		return nil, err
	}

	contextSize := capability.EstimateContextSize(req.Task, len(req.FilePatterns))
	resp, err := e.router.Execute(ctx, &router.Request{
		Prompt:        prompt,
		Required:      role.RequiredCaps,
		FallbackOrder: role.FallbackOrder,
		ContextSize:   contextSize,
		Rules:         role.ContextRouting,
		Priority:      req.Priority,
		Options: &backend.Options{
			MaxTokens:      role.TokenBudget,
			EnableThinking: role.EnableThinking,
		},
	})
	if err != nil {
		metrics.SubagentCalls.WithLabelValues(role.Name, "error").Inc()
		return nil, err
	}

	result := &SubagentResult{
		Role:         role.Name,
		ResolvedRole: resolvedFrom,
		Backend:      resp.Backend,
		Response:     resp,
		ProcessingMS: time.Since(started).Milliseconds(),
	}
	if role.RequiresVerdict {
		result.Verdict = verdict.Parse(resp.Content)
		if result.Verdict == nil {
			slog.Warn("Role requires a verdict but none was found",
				"role", role.Name, "backend", resp.Backend)
		}
	}
	metrics.SubagentCalls.WithLabelValues(role.Name, "success").Inc()
	return result, nil
}

// resolveAuto asks an orchestrator-tagged backend to pick a concrete role by
// name. The reply is normalized and substring-matched against known roles.
func (e *Executor) resolveAuto(ctx context.Context, task string) (string, error) {
	names := e.concreteRoleNames()
	auto, err := e.registry.Get(RoleAuto)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(auto.PromptTemplate, strings.Join(names, ", ")) + task

	resp, err := e.router.Execute(ctx, &router.Request{
		Prompt:    prompt,
		Preferred: e.orchestratorBackend(),
		Priority:  guard.PriorityHigh,
		Options:   &backend.Options{MaxTokens: auto.TokenBudget},
	})
	if err != nil {
		return "", err
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	for _, name := range names {
		if strings.Contains(answer, name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("auto selection reply %q matched no role", truncate(answer, 80))
}

// concreteRoleNames lists selectable (non-meta) role names, longest first so
// substring matching prefers the most specific name.
func (e *Executor) concreteRoleNames() []string {
	var names []string
	for _, role := range e.registry.List() {
		if !role.Meta {
			names = append(names, strings.ToLower(role.Name))
		}
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return names
}

// orchestratorBackend returns the first fast-routing backend in the chain,
// or "" when none is registered.
func (e *Executor) orchestratorBackend() string {
	reg := e.router.Registry()
	for _, name := range reg.Chain() {
		adapter, ok := reg.Lookup(name)
		if !ok {
			continue
		}
		model := ""
		if local, isLocal := adapter.(*backend.LocalAdapter); isLocal {
			model = local.ActiveModel()
		} else if desc, found := reg.Descriptor(name); found {
			model = desc.Model
		}
		if capability.Infer(model).Has(capability.FastRouting) {
			return name
		}
	}
	return ""
}

// composePrompt assembles the final prompt: role description, template (with
// placeholders resolved), task, resolved file list, suggested tools, extra
// context as pretty JSON, and the output-format hint.
func (e *Executor) composePrompt(role *Role, req *SubagentRequest) (string, error) {
	var b strings.Builder

	if role.Description != "" {
		b.WriteString("Role: ")
		b.WriteString(role.Description)
		b.WriteString("\n\n")
	}
	b.WriteString(role.RenderPrompt(req.SlotCount))
	b.WriteString(req.Task)

	if len(req.FilePatterns) > 0 && e.files != nil {
		files, err := e.files.Resolve(req.FilePatterns)
		if err != nil {
			return "", bridge.NewError(bridge.KindInvalidInput,
				"resolving file patterns: %v", err)
		}
		if len(files) > 0 {
			b.WriteString("\n\nFiles:\n")
			for _, f := range dedupe(files) {
				b.WriteString("- ")
				b.WriteString(f)
				b.WriteString("\n")
			}
		}
	}

	if len(req.Tools) > 0 {
		b.WriteString("\nSuggested tools: ")
		b.WriteString(strings.Join(req.Tools, ", "))
		b.WriteString("\n")
	}

	if len(req.Context) > 0 {
		pretty, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return "", bridge.NewError(bridge.KindInvalidInput,
				"encoding extra context: %v", err)
		}
		b.WriteString("\nContext:\n")
		b.Write(pretty)
		b.WriteString("\n")
	}

	if req.OutputFormat != "" {
		b.WriteString("\nOutput format: ")
		b.WriteString(req.OutputFormat)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
