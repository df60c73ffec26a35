// Package router glues the backend registry's fallback walk to the
// capability matcher and the concurrent request pool. Callers describe what
// they need; the router decides who serves it.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/backend"
	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/capability"
	"github.com/Platano78/smart-ai-bridge/pkg/guard"
	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
)

// Request describes one routed execution.
type Request struct {
	Prompt string

	// Preferred names a backend to try first, when available.
	Preferred string

	// Required capabilities for scoring; empty means any worker backend.
	Required []capability.Capability

	// FallbackOrder is the role's own ordered backend preference, consulted
	// after capability scoring.
	FallbackOrder []string

	// ContextSize and Rules drive context-aware overrides.
	ContextSize capability.ContextSize
	Rules       *capability.RoutingRules

	Priority guard.Priority
	Options  *backend.Options
}

// Router executes requests against the best available backend, falling back
// down an ordered candidate list. Every attempt passes through the pool.
type Router struct {
	registry *backend.Registry
	pool     *guard.Pool
}

// New creates a router over a registry and pool.
func New(registry *backend.Registry, pool *guard.Pool) *Router {
	return &Router{registry: registry, pool: pool}
}

// Registry exposes the underlying catalog for health and admin surfaces.
func (r *Router) Registry() *backend.Registry { return r.registry }

// Pool exposes the admission pool for stats surfaces.
func (r *Router) Pool() *guard.Pool { return r.pool }

// Execute routes the request. Candidate order: the explicit preferred
// backend, the capability-scored winner, the role's fallback order, then the
// registry's priority chain. A backend is attempted at most once per call.
func (r *Router) Execute(ctx context.Context, req *Request) (*bridge.Response, error) {
	started := time.Now()
	attempted := make(map[string]bool)
	var attempts []bridge.AttemptError
	var lastErr error

	for _, name := range r.candidates(req) {
		if attempted[name] {
			continue
		}
		adapter, ok := r.registry.Lookup(name)
		if !ok {
			continue
		}
		attempted[name] = true

		if !adapter.Available() {
			attempts = append(attempts, bridge.AttemptError{
				Backend: name,
				Kind:    bridge.KindBackendUnavailable,
				Message: "backend unavailable",
			})
			continue
		}

		resp, err := guard.Submit(ctx, r.pool, req.Priority, func() (*bridge.Response, error) {
			return adapter.Execute(ctx, req.Prompt, req.Options)
		})
		if err != nil {
			lastErr = err
			attempts = append(attempts, bridge.AttemptError{
				Backend: name,
				Kind:    bridge.KindOf(err),
				Message: err.Error(),
			})
			slog.Debug("Routed attempt failed",
				"backend", name, "kind", bridge.KindOf(err), "error", err)
			continue
		}

		chain := make([]string, 0, len(attempts))
		for _, a := range attempts {
			chain = append(chain, a.Backend)
		}
		resp.FallbackChain = chain
		metrics.BackendRequests.WithLabelValues(name, "success").Inc()
		metrics.BackendLatency.WithLabelValues(name).Observe(time.Since(started).Seconds())
		return resp, nil
	}

	return nil, &bridge.ChainError{Attempts: attempts, Last: lastErr}
}

// candidates builds the ordered candidate list for a request. Duplicates are
// harmless; Execute skips already-attempted names.
func (r *Router) candidates(req *Request) []string {
	var order []string

	if req.Preferred != "" {
		order = append(order, req.Preferred)
	}

	available := r.AvailableWorkers()
	if match, err := capability.FindBestBackend(
		req.Required, available, req.FallbackOrder,
		req.ContextSize, req.Rules, r.capsFor,
	); err == nil {
		order = append(order, match.Backend)
	}

	order = append(order, req.FallbackOrder...)
	order = append(order, r.registry.Chain()...)
	return order
}

// AvailableWorkers lists backends currently admitting requests, excluding
// orchestrator-tagged ones. The local backend is excluded while its active
// model is an orchestrator model.
func (r *Router) AvailableWorkers() []string {
	var out []string
	for _, name := range r.registry.Chain() {
		adapter, ok := r.registry.Lookup(name)
		if !ok || !adapter.Available() {
			continue
		}
		if r.capsFor(name).Has(capability.FastRouting) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// capsFor resolves a backend's capability set. The local backend is dynamic:
// its set follows the currently active model.
func (r *Router) capsFor(name string) capability.Set {
	adapter, ok := r.registry.Lookup(name)
	if !ok {
		return capability.NewSet(capability.General)
	}
	if local, ok := adapter.(*backend.LocalAdapter); ok {
		if model := local.ActiveModel(); model != "" {
			return capability.Infer(model)
		}
		return capability.NewSet(capability.General)
	}
	desc, ok := r.registry.Descriptor(name)
	if !ok {
		return capability.NewSet(capability.General)
	}
	return capability.Infer(desc.Model)
}
