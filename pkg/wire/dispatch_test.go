package wire

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/fileops"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/masking"
	"github.com/Platano78/smart-ai-bridge/pkg/orchestrator"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
)

// wireAdapter is the single fake backend behind dispatcher tests.
type wireAdapter struct {
	breaker *backend.Breaker
	reply   string
	err     error
}

func newWireAdapter() *wireAdapter {
	return &wireAdapter{
		breaker: backend.NewBreaker("deepseek", 5, 30*time.Second),
		reply:   "backend says hi",
	}
}

func (a *wireAdapter) Name() string { return "deepseek" }

func (a *wireAdapter) Execute(ctx context.Context, prompt string, opts *backend.Options) (*bridge.Response, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &bridge.Response{Content: a.reply, Backend: "deepseek"}, nil
}

func (a *wireAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus {
	return &bridge.HealthStatus{Healthy: true, CheckedAt: time.Now()}
}

func (a *wireAdapter) LastHealth() *bridge.HealthStatus { return nil }
func (a *wireAdapter) Available() bool                  { return true }
func (a *wireAdapter) Breaker() *backend.Breaker        { return a.breaker }
func (a *wireAdapter) Stats() backend.Stats             { return backend.Stats{} }

func newTestDispatcher(t *testing.T, adapter *wireAdapter) *Dispatcher {
	t.Helper()

	registry := backend.NewRegistry(func(name string, desc *config.BackendDescriptor) (backend.Adapter, error) {
		return adapter, nil
	})
	require.NoError(t, registry.Register("deepseek", &config.BackendDescriptor{
		Type:     config.BackendTypeDeepSeek,
		Enabled:  true,
		Priority: 1,
		Model:    "deepseek-reasoner",
	}))

	pool := guard.NewPool(2)
	rt := router.New(registry, pool)

	backups, err := fileops.NewLocalBackups(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	files := fileops.NewLocal(backups)

	executor := roles.NewExecutor(roles.NewRegistry(), rt, files)
	orch := orchestrator.New(executor, pool, nil, config.OrchestratorConfig{WorkDirBase: t.TempDir()})

	limiter := guard.NewRateLimiter(config.RateLimitConfig{
		RequestsPerMinute: 10, RequestsPerDay: 100, TokensPerMinute: 100_000, Threshold: 1.0,
	})
	validator := guard.NewFuzzyValidator(config.FuzzyConfig{
		MaxSingle: 100, MaxLines: 10, MaxTotal: 1000,
	})

	return NewDispatcher(rt, executor, orch, limiter, validator, files, masking.New())
}

// dispatch runs one call and decodes the envelope.
func dispatch(t *testing.T, d *Dispatcher, tool string, args any) map[string]any {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		require.NoError(t, err)
		raw = data
	}
	resp, err := d.Dispatch(context.Background(), &Call{Tool: tool, Arguments: raw})
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(resp, &envelope))
	return envelope
}

func TestDispatchUnknownTool(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, "teleport", map[string]any{})

	assert.Equal(t, false, env["success"])
	assert.Contains(t, env["error"], `unknown tool "teleport"`)
	assert.Equal(t, "invalid_input", env["error_kind"])
	assert.Contains(t, env, "processing_time_ms")
}

func TestDispatchAsk(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, ToolAsk, map[string]any{"prompt": "hello"})

	require.Equal(t, true, env["success"])
	response := env["response"].(map[string]any)
	assert.Equal(t, "backend says hi", response["content"])
	assert.Equal(t, "deepseek", response["backend"])
}

func TestDispatchAskEmptyPrompt(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, ToolAsk, map[string]any{"prompt": "   "})

	assert.Equal(t, false, env["success"])
	assert.Equal(t, "invalid_input", env["error_kind"])
}

func TestDispatchAskMissingArguments(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, ToolAsk, nil)

	assert.Equal(t, false, env["success"])
	assert.Contains(t, env["error"], "missing arguments")
}

func TestDispatchErrorsMasked(t *testing.T) {
	adapter := newWireAdapter()
	adapter.err = &bridge.Error{
		Kind:    bridge.KindMisconfigured,
		Backend: "deepseek",
		Msg:     "rejected credential Bearer sk-secret-value-1234567890",
	}
	d := newTestDispatcher(t, adapter)
	env := dispatch(t, d, ToolAsk, map[string]any{"prompt": "hello"})

	assert.Equal(t, false, env["success"])
	errText := env["error"].(string)
	assert.NotContains(t, errText, "sk-secret-value")
	assert.Contains(t, errText, "***MASKED***")
}

func TestDispatchHealth(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, ToolHealth, nil)

	require.Equal(t, true, env["success"])
	assert.Contains(t, env, "backends")
	assert.Equal(t, []any{"deepseek"}, env["chain"])
	assert.Contains(t, env, "pool")
	assert.Contains(t, env, "rate_limit")
}

func TestDispatchReview(t *testing.T) {
	adapter := newWireAdapter()
	adapter.reply = "Fine work.\n```yaml\nverdict:\n  status: APPROVE\n  score: 8\n  reasoning: ok\n```\n"
	d := newTestDispatcher(t, adapter)
	env := dispatch(t, d, ToolReview, map[string]any{"task": "review this diff"})

	require.Equal(t, true, env["success"])
	result := env["result"].(map[string]any)
	assert.Equal(t, "code-reviewer", result["role"])
	verdict := result["verdict"].(map[string]any)
	assert.Equal(t, "APPROVE", verdict["status"])
	assert.Equal(t, 8.0, verdict["score"])
}

func TestDispatchAnalyzeFile(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	path := filepath.Join(t.TempDir(), "sample.go")
	require.NoError(t, os.WriteFile(path, []byte("package sample\n"), 0o644))

	env := dispatch(t, d, ToolAnalyzeFile, map[string]any{"path": path})
	assert.Equal(t, true, env["success"])

	env = dispatch(t, d, ToolAnalyzeFile, map[string]any{"path": filepath.Join(t.TempDir(), "ghost.go")})
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "invalid_input", env["error_kind"])
}

func TestDispatchWriteFiles(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	target := filepath.Join(t.TempDir(), "out.txt")

	env := dispatch(t, d, ToolWriteFiles, map[string]any{
		"operations": []map[string]any{
			{"type": "write", "path": target, "content": "written via wire"},
		},
	})
	require.Equal(t, true, env["success"])

	ops := env["operations"].([]any)
	require.Len(t, ops, 1)
	assert.Equal(t, true, ops[0].(map[string]any)["success"])

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "written via wire", string(data))
}

func TestDispatchFuzzyEditRejectsOversizeEdits(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	big := make([]byte, 101)
	for i := range big {
		big[i] = 'a'
	}
	env := dispatch(t, d, ToolFuzzyEdit, map[string]any{
		"path": path,
		"mode": "strict",
		"edits": []map[string]any{
			{"find": string(big), "replace": "x"},
		},
	})

	assert.Equal(t, false, env["success"])
	assert.Contains(t, env["error"], "edits rejected")
	validation := env["validation"].(map[string]any)
	assert.Equal(t, false, validation["valid"])
}

func TestDispatchFuzzyEditApplies(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	env := dispatch(t, d, ToolFuzzyEdit, map[string]any{
		"path": path,
		"mode": "strict",
		"edits": []map[string]any{
			{"find": "world", "replace": "wire"},
		},
	})
	require.Equal(t, true, env["success"])

	report := env["report"].(map[string]any)
	assert.Equal(t, 1.0, report["applied_count"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello wire", string(data))
}

func TestDispatchBackupLifecycle(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	path := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	env := dispatch(t, d, ToolBackupCreate, map[string]any{"path": path})
	require.Equal(t, true, env["success"])
	id := env["backup"].(map[string]any)["id"].(string)
	require.NotEmpty(t, id)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	env = dispatch(t, d, ToolBackupRestore, map[string]any{"id": id})
	require.Equal(t, true, env["success"])
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))

	env = dispatch(t, d, ToolBackupList, nil)
	require.Equal(t, true, env["success"])
	assert.Len(t, env["backups"].([]any), 1)

	// Nothing is old enough for the default retention.
	env = dispatch(t, d, ToolBackupCleanup, nil)
	require.Equal(t, true, env["success"])
	assert.Equal(t, 0.0, env["removed"])

	// An explicit zero age removes everything.
	env = dispatch(t, d, ToolBackupCleanup, map[string]any{"older_than": "0s"})
	require.Equal(t, true, env["success"])
	assert.Equal(t, 1.0, env["removed"])
}

func TestDispatchBackupCleanupBadAge(t *testing.T) {
	d := newTestDispatcher(t, newWireAdapter())
	env := dispatch(t, d, ToolBackupCleanup, map[string]any{"older_than": "soonish"})
	assert.Equal(t, false, env["success"])
	assert.Equal(t, "invalid_input", env["error_kind"])
}
