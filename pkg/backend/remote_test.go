package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		kind   bridge.ErrorKind
	}{
		{"unauthorized", 401, nil, bridge.KindMisconfigured},
		{"forbidden", 403, nil, bridge.KindMisconfigured},
		{"throttled", 429, nil, bridge.KindRateLimited},
		{"server error", 503, nil, bridge.KindUpstreamError},
		{"client error", 422, nil, bridge.KindUpstreamError},
		{"deadline", 0, context.DeadlineExceeded, bridge.KindUpstreamTimeout},
		{"transport", 0, errors.New("connection refused"), bridge.KindUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("test", tt.status, tt.err)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, "test", err.Backend)
		})
	}
}

func TestDynamicTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, dynamicTimeout(100, 40*time.Millisecond, false), "floor")
	assert.Equal(t, 400*time.Second, dynamicTimeout(10_000, 40*time.Millisecond, false))
	assert.Equal(t, 600*time.Second, dynamicTimeout(10_000, 40*time.Millisecond, true), "thinking widened, capped")
	assert.Equal(t, 600*time.Second, dynamicTimeout(1_000_000, 40*time.Millisecond, false), "ceiling")
}

func chatResponse(content, reasoning string, tokens int) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"content":           content,
				"reasoning_content": reasoning,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"total_tokens": tokens},
	})
	return string(body)
}

func TestDeepSeekExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, chatResponse("hello there", "", 12))
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter("deepseek", srv.URL, "test-key",
		"deepseek-reasoner", "deepseek-chat", NewBreaker("deepseek", 5, time.Minute), 0)

	resp, err := a.Execute(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 12, resp.Tokens)
	assert.Equal(t, "deepseek", resp.Backend)
	require.NotNil(t, resp.Metadata)
	assert.Equal(t, "deepseek-reasoner", resp.Metadata.Model)
	assert.False(t, resp.Metadata.FallbackUsed)

	st := a.Stats()
	assert.Equal(t, int64(1), st.Succeeded)
	assert.Equal(t, BreakerClosed, a.Breaker().State())
}

func TestDeepSeekReasoningOnlyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatResponse("", "thinking out loud", 5))
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter("deepseek", srv.URL, "k",
		"deepseek-reasoner", "deepseek-chat", NewBreaker("deepseek", 5, time.Minute), 0)

	resp, err := a.Execute(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "thinking out loud", resp.Content)
}

func TestDeepSeekFallsBackToChatModel(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model == "deepseek-reasoner" {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, chatResponse("from fallback", "", 7))
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter("deepseek", srv.URL, "k",
		"deepseek-reasoner", "deepseek-chat", NewBreaker("deepseek", 5, time.Minute), 0)

	resp, err := a.Execute(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)
	assert.Equal(t, 2, requests)
	require.NotNil(t, resp.Metadata)
	assert.True(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, "deepseek-chat", resp.Metadata.Model)
}

func TestDeepSeekNoFallbackOnAuthFailure(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewDeepSeekAdapter("deepseek", srv.URL, "k",
		"deepseek-reasoner", "deepseek-chat", NewBreaker("deepseek", 5, time.Minute), 0)

	_, err := a.Execute(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindMisconfigured, bridge.KindOf(err))
	assert.Equal(t, 1, requests, "auth failures are not retried on the chat model")
}

func TestDeepSeekMissingCredential(t *testing.T) {
	a := NewDeepSeekAdapter("deepseek", "http://unused.invalid", "",
		"deepseek-reasoner", "deepseek-chat", NewBreaker("deepseek", 5, time.Minute), 0)

	_, err := a.Execute(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindMisconfigured, bridge.KindOf(err))
	// No upstream contact: the breaker must not tick.
	assert.Equal(t, 0, a.Breaker().ConsecutiveFailures())
}

type stubQuota struct {
	denyErr  error
	recorded int
	open     bool
}

func (s *stubQuota) Allow(estimatedTokens int) error { return s.denyErr }
func (s *stubQuota) Record(tokens int)               { s.recorded += tokens }
func (s *stubQuota) Open() bool                      { return s.open }

func geminiBody(text string, tokens int) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": text}}},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{"totalTokenCount": tokens},
	})
	return string(body)
}

func TestGeminiExecuteRecordsQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, geminiBody("pong", 42))
	}))
	defer srv.Close()

	quota := &stubQuota{}
	a := NewGeminiAdapter("gemini", srv.URL, "k", "gemini-2.0-flash",
		NewBreaker("gemini", 5, time.Minute), quota, 0)

	resp, err := a.Execute(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, 42, resp.Tokens)
	assert.Equal(t, 42, quota.recorded)
}

func TestGeminiQuotaDenied(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	quota := &stubQuota{denyErr: errors.New("RPM threshold reached")}
	a := NewGeminiAdapter("gemini", srv.URL, "k", "gemini-2.0-flash",
		NewBreaker("gemini", 5, time.Minute), quota, 0)

	_, err := a.Execute(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, bridge.KindRateLimited, bridge.KindOf(err))
	assert.Equal(t, 0, requests, "denied requests never reach the upstream")
}

func TestGeminiAvailableTracksQuotaBreaker(t *testing.T) {
	quota := &stubQuota{}
	a := NewGeminiAdapter("gemini", "http://unused.invalid", "k", "gemini-2.0-flash",
		NewBreaker("gemini", 5, time.Minute), quota, 0)

	assert.True(t, a.Available())
	quota.open = true
	assert.False(t, a.Available())
}

func TestRecordParsedProtocolMismatch(t *testing.T) {
	core := newRemoteCore("x", "http://unused.invalid", "k", "m", NewBreaker("x", 5, time.Minute))

	// The first malformed payload is tolerated without a breaker tick.
	err := core.recordParsed(errors.New("unexpected end of JSON input"), time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, bridge.KindProtocolMismatch, bridge.KindOf(err))
	assert.Equal(t, 0, core.breaker.ConsecutiveFailures())

	// A repeat does tick it.
	err = core.recordParsed(errors.New("unexpected end of JSON input"), time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 1, core.breaker.ConsecutiveFailures())

	// A clean parse resets both the miss counter and the breaker.
	require.NoError(t, core.recordParsed(nil, time.Millisecond))
	assert.Equal(t, 0, core.breaker.ConsecutiveFailures())
	assert.Equal(t, int32(0), core.protocolMisses.Load())
}

func TestHealthMonitorSweeps(t *testing.T) {
	alpha := newFakeAdapter("alpha")
	r, _ := fakeRegistry(map[string]*fakeAdapter{"alpha": alpha})
	require.NoError(t, r.Register("alpha", desc(1)))

	m := NewHealthMonitor(r, time.Hour, time.Second)
	m.Start(context.Background())
	m.Start(context.Background()) // second Start is a no-op
	m.Stop()

	// Stop returns only after the loop exits; restarting must work.
	m.Start(context.Background())
	m.Stop()
}
