package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
)

func localWithModels(models []LocalModel) *LocalAdapter {
	a := NewLocalAdapter("local", config.DiscoveryConfig{}, "", NewBreaker("local", 5, time.Minute))
	a.models = models
	return a
}

func TestSelectModel(t *testing.T) {
	models := []LocalModel{
		{ID: "qwen3-14b", State: "loaded", ContextLength: 65_536, Slots: 2},
		{ID: "qwen3-32b", State: "loaded", ContextLength: 131_072, Slots: 1},
		{ID: "qwen3-8b", State: "loaded", ContextLength: 32_768, Slots: 4},
		{ID: "stale", State: "unloaded", ContextLength: 1_000_000, Slots: 99},
	}

	tests := []struct {
		name     string
		prompt   string
		opts     *Options
		expected string
	}{
		{"default picks first loaded", "short prompt", nil, "qwen3-14b"},
		{"router hint honored", "short prompt", &Options{RouterModel: "qwen3-32b"}, "qwen3-32b"},
		{"router hint not loaded substitutes", "short prompt", &Options{RouterModel: "stale"}, "qwen3-14b"},
		{"prefer context picks largest window", "short prompt", &Options{PreferContext: true}, "qwen3-32b"},
		{"large prompt picks largest window", strings.Repeat("x", 25_000), nil, "qwen3-32b"},
		{"prefer speed picks most slots", "short prompt", &Options{PreferSpeed: true}, "qwen3-8b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := localWithModels(models)
			model, err := a.selectModel(tt.prompt, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, model)
		})
	}
}

func TestSelectModelNoModels(t *testing.T) {
	a := localWithModels(nil)
	_, err := a.selectModel("hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindMisconfigured, bridge.KindOf(err))

	a = localWithModels([]LocalModel{{ID: "stale", State: "unloaded"}})
	_, err = a.selectModel("hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindMisconfigured, bridge.KindOf(err))
}

func newLocalServer(t *testing.T, listing string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listing)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatResponse("local says hi", "", 9))
	})
	return httptest.NewServer(mux)
}

func TestLocalExecuteWithOverrideEndpoint(t *testing.T) {
	srv := newLocalServer(t, `{"data":[{"id":"qwen3-8b","state":"loaded","context_length":32768,"slots":4}]}`)
	defer srv.Close()

	discovery := config.DiscoveryConfig{CacheTTL: time.Minute, ProbeTimeout: 2 * time.Second}
	a := NewLocalAdapter("local", discovery, srv.URL, NewBreaker("local", 5, time.Minute))

	resp, err := a.Execute(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "local says hi", resp.Content)
	assert.Equal(t, 9, resp.Tokens)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "qwen3-8b", resp.Metadata.Model)

	assert.Equal(t, "qwen3-8b", a.ActiveModel())
	assert.Equal(t, 4, a.Slots(context.Background()))
	assert.Equal(t, int64(1), a.Stats().Succeeded)
}

func TestLocalSlotsDefaultToOne(t *testing.T) {
	srv := newLocalServer(t, `{"data":[{"id":"qwen3-8b","state":"loaded"}]}`)
	defer srv.Close()

	discovery := config.DiscoveryConfig{CacheTTL: time.Minute, ProbeTimeout: 2 * time.Second}
	a := NewLocalAdapter("local", discovery, srv.URL, NewBreaker("local", 5, time.Minute))

	assert.Equal(t, 1, a.Slots(context.Background()))
}

func TestLocalDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	discovery := config.DiscoveryConfig{CacheTTL: time.Minute, ProbeTimeout: 500 * time.Millisecond}
	a := NewLocalAdapter("local", discovery, srv.URL, NewBreaker("local", 5, time.Minute))

	_, err := a.Execute(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindUpstreamError, bridge.KindOf(err))
	assert.Equal(t, 1, a.Breaker().ConsecutiveFailures())

	assert.Equal(t, 0, a.Slots(context.Background()), "no endpoint means no slots")
}

func TestLocalBreakerGatesExecute(t *testing.T) {
	a := NewLocalAdapter("local", config.DiscoveryConfig{}, "", NewBreaker("local", 1, time.Hour))
	a.breaker.ForceOpen()

	_, err := a.Execute(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindBackendUnavailable, bridge.KindOf(err))
}

func TestLocalHealthProbe(t *testing.T) {
	srv := newLocalServer(t, `{"data":[{"id":"qwen3-8b","state":"loaded"}]}`)
	defer srv.Close()

	discovery := config.DiscoveryConfig{CacheTTL: time.Minute, ProbeTimeout: 2 * time.Second}
	a := NewLocalAdapter("local", discovery, srv.URL, NewBreaker("local", 5, time.Minute))

	status := a.HealthProbe(context.Background())
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Equal(t, "qwen3-8b", status.Model)

	last := a.LastHealth()
	require.NotNil(t, last)
	assert.True(t, last.Healthy)
}
