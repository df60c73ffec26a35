// Package backend provides the uniform adapter contract over heterogeneous
// LLM endpoints, the per-adapter circuit breaker, and the named registry
// with priority-ordered fallback.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// Options tune a single Execute call. Zero values fall back to adapter
// defaults.
type Options struct {
	MaxTokens      int
	Temperature    float64
	TopP           float64
	EnableThinking bool

	// Timeout overrides the adapter's dynamic timeout when positive.
	Timeout time.Duration

	// PreferSpeed / PreferContext bias local model selection.
	PreferSpeed   bool
	PreferContext bool

	// RouterModel is a per-call local model profile hint; when set the
	// local adapter honors it over its own selection policy.
	RouterModel string
}

// Adapter is the uniform contract over one LLM endpoint. Implementations
// own their schema translation, timeout policy, and breaker.
type Adapter interface {
	// Name returns the registry name of this backend.
	Name() string

	// Execute performs one round-trip. The breaker is consulted before any
	// upstream contact and updated from the outcome.
	Execute(ctx context.Context, prompt string, opts *Options) (*bridge.Response, error)

	// HealthProbe issues a minimal request against the backend's chat
	// surface with an aggressive timeout and records the result.
	HealthProbe(ctx context.Context) *bridge.HealthStatus

	// LastHealth returns the most recent probe result without probing.
	LastHealth() *bridge.HealthStatus

	// Available reports whether the adapter would accept a request now:
	// breaker closed (or reset timeout elapsed) and last probe healthy.
	Available() bool

	// Breaker exposes the adapter's circuit breaker for operator hooks and
	// the router's availability checks.
	Breaker() *Breaker

	// Stats returns a snapshot of the rolling counters.
	Stats() Stats
}

// classify maps a transport/HTTP failure to the error taxonomy.
// Status 0 means no HTTP response was received.
func classify(backend string, status int, err error) *bridge.Error {
	switch {
	case status == 401 || status == 403:
		return &bridge.Error{Kind: bridge.KindMisconfigured, Backend: backend, Status: status, Err: err}
	case status == 429:
		return &bridge.Error{Kind: bridge.KindRateLimited, Backend: backend, Status: status, Err: err}
	case status >= 500:
		return &bridge.Error{Kind: bridge.KindUpstreamError, Backend: backend, Status: status, Err: err}
	case status >= 400:
		return &bridge.Error{Kind: bridge.KindUpstreamError, Backend: backend, Status: status, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &bridge.Error{Kind: bridge.KindUpstreamTimeout, Backend: backend, Err: err}
	default:
		return &bridge.Error{Kind: bridge.KindUpstreamError, Backend: backend, Err: err}
	}
}

// dynamicTimeout derives a deadline from the output-token budget.
// perToken is the serialization estimate; the result is clamped to
// [60s, 600s]. thinking widens the budget by half.
func dynamicTimeout(maxTokens int, perToken time.Duration, thinking bool) time.Duration {
	d := time.Duration(maxTokens) * perToken
	if thinking {
		d = d + d/2
	}
	if d < 60*time.Second {
		d = 60 * time.Second
	}
	if d > 600*time.Second {
		d = 600 * time.Second
	}
	return d
}
