// Package wire is the gateway's stdio tool surface: line-delimited JSON
// requests in, single-object JSON responses out.
package wire

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/fileops"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/masking"
	"github.com/Platano78/smart-ai-bridge/pkg/orchestrator"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
)

// Known tool names.
const (
	ToolAsk            = "ask"
	ToolReview         = "review"
	ToolExplore        = "explore"
	ToolAnalyzeFile    = "analyze-file"
	ToolHealth         = "health"
	ToolSubagent       = "subagent"
	ToolParallelAgents = "parallel-agents"
	ToolWriteFiles     = "write-files"
	ToolFuzzyEdit      = "fuzzy-edit"
	ToolBackupCreate   = "backup-create"
	ToolBackupRestore  = "backup-restore"
	ToolBackupList     = "backup-list"
	ToolBackupCleanup  = "backup-cleanup"
)

// Call is one incoming tool invocation.
type Call struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// handler executes one tool; the returned value becomes the response payload.
type handler func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher maps tool calls to handlers and shapes the response envelope.
type Dispatcher struct {
	router    *router.Router
	executor  *roles.Executor
	orch      *orchestrator.Orchestrator
	limiter   *guard.RateLimiter
	validator *guard.FuzzyValidator
	files     *fileops.Local
	masker    *masking.Masker

	handlers map[string]handler
}

// NewDispatcher wires the tool table.
func NewDispatcher(
	rt *router.Router,
	executor *roles.Executor,
	orch *orchestrator.Orchestrator,
	limiter *guard.RateLimiter,
	validator *guard.FuzzyValidator,
	files *fileops.Local,
	masker *masking.Masker,
) *Dispatcher {
	d := &Dispatcher{
		router:    rt,
		executor:  executor,
		orch:      orch,
		limiter:   limiter,
		validator: validator,
		files:     files,
		masker:    masker,
	}
	d.handlers = map[string]handler{
		ToolAsk:            d.handleAsk,
		ToolReview:         d.handleReview,
		ToolExplore:        d.handleExplore,
		ToolAnalyzeFile:    d.handleAnalyzeFile,
		ToolHealth:         d.handleHealth,
		ToolSubagent:       d.handleSubagent,
		ToolParallelAgents: d.handleParallelAgents,
		ToolWriteFiles:     d.handleWriteFiles,
		ToolFuzzyEdit:      d.handleFuzzyEdit,
		ToolBackupCreate:   d.handleBackupCreate,
		ToolBackupRestore:  d.handleBackupRestore,
		ToolBackupList:     d.handleBackupList,
		ToolBackupCleanup:  d.handleBackupCleanup,
	}
	return d
}

// Dispatch runs one call and returns the sanitized response bytes. Errors
// are folded into the envelope; Dispatch itself only fails when even the
// error envelope cannot be encoded.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) ([]byte, error) {
	started := time.Now()

	h, ok := d.handlers[call.Tool]
	if !ok {
		return d.envelope(nil, bridge.NewError(bridge.KindInvalidInput,
			"unknown tool %q", call.Tool), started)
	}
	payload, err := h(ctx, call.Arguments)
	return d.envelope(payload, err, started)
}

// envelope shapes {success, …payload…, error?, processing_time_ms}.
func (d *Dispatcher) envelope(payload any, err error, started time.Time) ([]byte, error) {
	out := map[string]any{
		"success":            err == nil,
		"processing_time_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		out["error"] = d.masker.Mask(err.Error())
		out["error_kind"] = string(bridge.KindOf(err))
	}
	if payload != nil {
		// Flatten map payloads into the envelope; anything else nests.
		if m, ok := payload.(map[string]any); ok {
			for k, v := range m {
				out[k] = v
			}
		} else {
			out["result"] = payload
		}
	}
	return sanitizeJSON(out)
}

// decode unmarshals tool arguments, classifying failures as invalid input.
func decode[T any](args json.RawMessage, v *T) error {
	if len(args) == 0 {
		return bridge.NewError(bridge.KindInvalidInput, "missing arguments")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return bridge.NewError(bridge.KindInvalidInput, "bad arguments: %v", err)
	}
	return nil
}

func fmtBackupAge(s string) (time.Duration, error) {
	if s == "" {
		return 7 * 24 * time.Hour, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, bridge.NewError(bridge.KindInvalidInput, "bad older_than %q: %v", s, err)
	}
	return dur, nil
}
