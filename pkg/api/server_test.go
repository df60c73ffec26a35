package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/roles"
	"github.com/Platano78/smart-ai-bridge/pkg/router"
)

type apiAdapter struct {
	name    string
	breaker *backend.Breaker
	health  *bridge.HealthStatus
}

func newAPIAdapter(name string) *apiAdapter {
	return &apiAdapter{
		name:    name,
		breaker: backend.NewBreaker(name, 5, 30*time.Second),
	}
}

func (a *apiAdapter) Name() string { return a.name }

func (a *apiAdapter) Execute(ctx context.Context, prompt string, opts *backend.Options) (*bridge.Response, error) {
	return &bridge.Response{Content: "ok", Backend: a.name}, nil
}

func (a *apiAdapter) HealthProbe(ctx context.Context) *bridge.HealthStatus { return a.health }
func (a *apiAdapter) LastHealth() *bridge.HealthStatus                     { return a.health }
func (a *apiAdapter) Available() bool                                      { return true }
func (a *apiAdapter) Breaker() *backend.Breaker                            { return a.breaker }
func (a *apiAdapter) Stats() backend.Stats                                 { return backend.Stats{} }

func newTestServer(t *testing.T, adapters map[string]*apiAdapter) *Server {
	t.Helper()
	registry := backend.NewRegistry(func(name string, desc *config.BackendDescriptor) (backend.Adapter, error) {
		return adapters[name], nil
	})
	priority := 1
	for _, name := range []string{"deepseek", "local"} {
		if _, ok := adapters[name]; !ok {
			continue
		}
		require.NoError(t, registry.Register(name, &config.BackendDescriptor{
			Type:     config.BackendTypeDeepSeek,
			Enabled:  true,
			Priority: priority,
			Model:    "deepseek-reasoner",
		}))
		priority++
	}
	rt := router.New(registry, guard.NewPool(2))
	limiter := guard.NewRateLimiter(config.RateLimitConfig{
		RequestsPerMinute: 10, RequestsPerDay: 100, TokensPerMinute: 100_000, Threshold: 1.0,
	})
	return NewServer(rt, limiter, roles.NewRegistry(), "0")
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	return do(t, s, http.MethodGet, path)
}

func do(t *testing.T, s *Server, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealthEndpointHealthy(t *testing.T) {
	s := newTestServer(t, map[string]*apiAdapter{"deepseek": newAPIAdapter("deepseek")})
	code, body := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, []any{"deepseek"}, body["chain"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	sick := newAPIAdapter("deepseek")
	sick.health = &bridge.HealthStatus{Healthy: false, Error: "connection refused", CheckedAt: time.Now()}
	s := newTestServer(t, map[string]*apiAdapter{"deepseek": sick})

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code, "a degraded gateway still answers 200")
	assert.Equal(t, "degraded", body["status"])
}

func TestBackendsEndpoint(t *testing.T) {
	s := newTestServer(t, map[string]*apiAdapter{
		"deepseek": newAPIAdapter("deepseek"),
		"local":    newAPIAdapter("local"),
	})
	code, body := get(t, s, "/api/v1/backends")
	require.Equal(t, http.StatusOK, code)

	backends := body["backends"].(map[string]any)
	require.Contains(t, backends, "deepseek")
	require.Contains(t, backends, "local")

	entry := backends["deepseek"].(map[string]any)
	assert.Equal(t, true, entry["enabled"])
	assert.Equal(t, "deepseek-reasoner", entry["model"])
	assert.Contains(t, entry, "breaker")
	assert.Contains(t, entry, "stats")

	assert.Equal(t, []any{"deepseek", "local"}, body["chain"])
}

func TestPoolAndRateLimitEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]*apiAdapter{"deepseek": newAPIAdapter("deepseek")})

	code, _ := get(t, s, "/api/v1/pool")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, s, "/api/v1/ratelimit")
	assert.Equal(t, http.StatusOK, code)
}

func TestRolesEndpoint(t *testing.T) {
	s := newTestServer(t, map[string]*apiAdapter{"deepseek": newAPIAdapter("deepseek")})

	code, body := get(t, s, "/api/v1/roles")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["roles"].([]any), 10)

	code, body = get(t, s, "/api/v1/roles?category=review")
	require.Equal(t, http.StatusOK, code)
	listed := body["roles"].([]any)
	require.Len(t, listed, 2)
	assert.Equal(t, "code-reviewer", listed[0].(map[string]any)["name"])
}

func TestEnableDisableEndpoints(t *testing.T) {
	s := newTestServer(t, map[string]*apiAdapter{"deepseek": newAPIAdapter("deepseek")})

	code, body := do(t, s, http.MethodPost, "/api/v1/backends/deepseek/disable")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["enabled"])
	assert.Empty(t, s.router.Registry().Chain())

	code, body = do(t, s, http.MethodPost, "/api/v1/backends/deepseek/enable")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, []string{"deepseek"}, s.router.Registry().Chain())

	code, body = do(t, s, http.MethodPost, "/api/v1/backends/ghost/enable")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "not found")
}
