package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
)

// remoteCore is the shared machinery of every remote adapter: credential
// check, breaker gating, HTTP round-trip, failure classification, and
// stats/health bookkeeping. The provider-specific request/response schemas
// live in each variant.
type remoteCore struct {
	name     string
	endpoint string
	apiKey   string
	model    string
	headers  map[string]string

	defaultMaxTokens int
	perTokenCost     time.Duration
	timeoutOverride  time.Duration
	probeTimeout     time.Duration

	breaker *Breaker
	stats   statsTracker
	health  healthState
	client  *http.Client

	// consecutive protocol mismatches; the breaker ticks on repeats only
	// (the first malformed payload may be a transient provider hiccup).
	protocolMisses atomic.Int32
}

func newRemoteCore(name, endpoint, apiKey, model string, breaker *Breaker) *remoteCore {
	return &remoteCore{
		name:             name,
		endpoint:         endpoint,
		apiKey:           apiKey,
		model:            model,
		defaultMaxTokens: 4096,
		perTokenCost:     40 * time.Millisecond,
		probeTimeout:     10 * time.Second,
		breaker:          breaker,
		client:           &http.Client{},
	}
}

func (r *remoteCore) Name() string      { return r.name }
func (r *remoteCore) Breaker() *Breaker { return r.breaker }
func (r *remoteCore) Stats() Stats      { return r.stats.snapshot() }

func (r *remoteCore) LastHealth() *bridge.HealthStatus {
	return publishHealth(r.health.get())
}

// Available reports breaker-closed (or half-open eligible) AND the latest
// probe healthy. Before the first probe the adapter is assumed reachable.
func (r *remoteCore) Available() bool {
	switch r.breaker.State() {
	case BreakerClosed:
	case BreakerOpen:
		if time.Since(r.breaker.OpenedAt()) < r.breaker.resetTimeout {
			return false
		}
	default:
		return false
	}
	if last := r.health.get(); last != nil {
		return last.Healthy
	}
	return true
}

// preflight performs the checks common to every Execute: credential present,
// breaker admits. Returns a classified error or nil.
func (r *remoteCore) preflight() error {
	if r.apiKey == "" {
		// No upstream contacted: never trips the breaker.
		return bridge.NewError(bridge.KindMisconfigured,
			"backend %q has no credential configured", r.name)
	}
	if !r.breaker.Allow() {
		return &bridge.Error{
			Kind:    bridge.KindBackendUnavailable,
			Backend: r.name,
			Msg:     "circuit breaker open",
		}
	}
	return nil
}

// roundTrip posts a JSON body and returns the raw response bytes.
// Transport and HTTP failures are classified and tick the breaker.
func (r *remoteCore) roundTrip(ctx context.Context, url string, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, bridge.WrapError(bridge.KindUpstreamError, r.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordFailure()
		r.stats.recordFailure()
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, &bridge.Error{Kind: bridge.KindUpstreamTimeout, Backend: r.name, Err: err}
		}
		return nil, bridge.WrapError(bridge.KindUpstreamError, r.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.breaker.RecordFailure()
		r.stats.recordFailure()
		return nil, bridge.WrapError(bridge.KindUpstreamError, r.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.breaker.RecordFailure()
		r.stats.recordFailure()
		return nil, classify(r.name, resp.StatusCode,
			fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}
	return data, nil
}

// recordParsed finalizes bookkeeping after response parsing. A parse failure
// is a protocol mismatch: the breaker ticks on repeats only.
func (r *remoteCore) recordParsed(parseErr error, latency time.Duration) error {
	if parseErr != nil {
		misses := r.protocolMisses.Add(1)
		r.stats.recordFailure()
		if misses > 1 {
			r.breaker.RecordFailure()
		}
		return &bridge.Error{Kind: bridge.KindProtocolMismatch, Backend: r.name, Err: parseErr}
	}
	r.protocolMisses.Store(0)
	r.breaker.RecordSuccess()
	r.stats.recordSuccess(latency)
	return nil
}

// probe runs a minimal generation against execFn and records the outcome.
func (r *remoteCore) probe(ctx context.Context, execFn func(context.Context, string, *Options) (*bridge.Response, error)) *bridge.HealthStatus {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	snap := &HealthSnapshot{CheckedAt: start, Model: r.model}
	_, err := execFn(probeCtx, "ping", &Options{MaxTokens: 5, Timeout: r.probeTimeout})
	snap.Latency = time.Since(start)
	if err != nil {
		snap.Error = err.Error()
		slog.Debug("Health probe failed", "backend", r.name, "error", err)
	} else {
		snap.Healthy = true
	}
	r.health.set(snap)
	return publishHealth(snap)
}

func publishHealth(s *HealthSnapshot) *bridge.HealthStatus {
	if s == nil {
		return nil
	}
	return &bridge.HealthStatus{
		Healthy:   s.Healthy,
		Latency:   s.Latency,
		CheckedAt: s.CheckedAt,
		Error:     s.Error,
		Model:     s.Model,
	}
}

func (r *remoteCore) timeoutFor(opts *Options) time.Duration {
	if opts != nil && opts.Timeout > 0 {
		return opts.Timeout
	}
	if r.timeoutOverride > 0 {
		return r.timeoutOverride
	}
	maxTokens := r.defaultMaxTokens
	thinking := false
	if opts != nil {
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
		thinking = opts.EnableThinking
	}
	return dynamicTimeout(maxTokens, r.perTokenCost, thinking)
}

func (r *remoteCore) maxTokensFor(opts *Options) int {
	if opts != nil && opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return r.defaultMaxTokens
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
