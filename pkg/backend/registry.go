package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Platano78/smart-ai-bridge/pkg/bridge"
	"github.com/Platano78/smart-ai-bridge/pkg/config"
)

// Registry is the named catalog of backend adapters. Adapters are
// materialized on registration of enabled entries, removed on disable, and
// re-materialized on enable. The fallback chain is rebuilt synchronously on
// every priority or enabled change; readers receive a snapshot copy.
type Registry struct {
	mu        sync.RWMutex
	descs     map[string]*config.BackendDescriptor
	adapters  map[string]Adapter
	chain     []string // enabled names, ascending priority
	inserted  int
	factory   AdapterFactory
}

// AdapterFactory materializes an adapter for a descriptor.
type AdapterFactory func(name string, desc *config.BackendDescriptor) (Adapter, error)

// NewRegistry creates an empty registry.
func NewRegistry(factory AdapterFactory) *Registry {
	return &Registry{
		descs:    make(map[string]*config.BackendDescriptor),
		adapters: make(map[string]Adapter),
		factory:  factory,
	}
}

// Register adds or replaces a catalog entry, materializing its adapter when
// enabled.
func (r *Registry) Register(name string, desc *config.BackendDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.descs[name]; ok {
		desc.SetInsertion(existing.Insertion())
	} else {
		desc.SetInsertion(r.inserted)
		r.inserted++
	}
	r.descs[name] = desc

	delete(r.adapters, name)
	if desc.Enabled {
		adapter, err := r.factory(name, desc)
		if err != nil {
			delete(r.descs, name)
			return err
		}
		r.adapters[name] = adapter
	}
	r.rebuildChain()
	return nil
}

// Unregister removes a catalog entry and its adapter.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.descs, name)
	delete(r.adapters, name)
	r.rebuildChain()
}

// SetEnabled toggles an entry, materializing or removing its adapter.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descs[name]
	if !ok {
		return config.ErrBackendNotFound
	}
	if desc.Enabled == enabled {
		return nil
	}
	desc.Enabled = enabled

	if enabled {
		adapter, err := r.factory(name, desc)
		if err != nil {
			desc.Enabled = false
			return err
		}
		r.adapters[name] = adapter
	} else {
		delete(r.adapters, name)
	}
	r.rebuildChain()
	return nil
}

// SetPriority reorders the fallback chain.
func (r *Registry) SetPriority(name string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descs[name]
	if !ok {
		return config.ErrBackendNotFound
	}
	desc.Priority = priority
	r.rebuildChain()
	return nil
}

// rebuildChain recomputes the priority-ordered enabled chain.
// Callers must hold mu.
func (r *Registry) rebuildChain() {
	enabled := make(map[string]*config.BackendDescriptor, len(r.descs))
	for name, d := range r.descs {
		if d.Enabled {
			enabled[name] = d
		}
	}
	r.chain = config.SortedBackendNames(enabled)
}

// Lookup returns the adapter for a name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Chain returns a snapshot copy of the fallback chain.
func (r *Registry) Chain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.chain))
	copy(out, r.chain)
	return out
}

// Names returns all catalog names (enabled or not).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	return names
}

// Descriptor returns a copy of the catalog entry.
func (r *Registry) Descriptor(name string) (config.BackendDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	if !ok {
		return config.BackendDescriptor{}, false
	}
	return *d, true
}

// NextAvailable returns the first chain name not in exclude whose breaker
// admits a request. Health is an orthogonal latest-observed fact and is not
// re-probed here.
func (r *Registry) NextAvailable(exclude map[string]bool) (string, bool) {
	for _, name := range r.Chain() {
		if exclude[name] {
			continue
		}
		adapter, ok := r.Lookup(name)
		if !ok {
			continue
		}
		switch adapter.Breaker().State() {
		case BreakerClosed:
			return name, true
		}
	}
	return "", false
}

// AllHealth returns the latest observed health per enabled backend.
func (r *Registry) AllHealth() map[string]*bridge.HealthStatus {
	out := make(map[string]*bridge.HealthStatus)
	for _, name := range r.Chain() {
		if adapter, ok := r.Lookup(name); ok {
			out[name] = adapter.LastHealth()
		}
	}
	return out
}

// ExportConfig serializes the catalog to YAML.
func (r *Registry) ExportConfig() ([]byte, error) {
	r.mu.RLock()
	descs := make(map[string]*config.BackendDescriptor, len(r.descs))
	for name, d := range r.descs {
		cp := *d
		descs[name] = &cp
	}
	r.mu.RUnlock()
	return config.ExportBackends(descs)
}

// LoadConfig replaces the catalog from a YAML document.
func (r *Registry) LoadConfig(doc []byte) error {
	descs, err := config.ParseBackends(doc, "catalog")
	if err != nil {
		return err
	}
	for name, desc := range descs {
		if err := r.Register(name, desc); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteWithFallback tries preferred (when given and available) then walks
// the fallback chain, skipping already-attempted names. The first success is
// annotated with the attempted list; full exhaustion surfaces a ChainError.
func (r *Registry) ExecuteWithFallback(ctx context.Context, prompt string, preferred string, opts *Options) (*bridge.Response, error) {
	attempted := make(map[string]bool)
	var attempts []bridge.AttemptError
	var lastErr error

	try := func(name string) (*bridge.Response, bool) {
		adapter, ok := r.Lookup(name)
		if !ok {
			return nil, false
		}
		attempted[name] = true

		resp, err := adapter.Execute(ctx, prompt, opts)
		if err != nil {
			lastErr = err
			attempts = append(attempts, bridge.AttemptError{
				Backend: name,
				Kind:    bridge.KindOf(err),
				Message: err.Error(),
			})
			slog.Debug("Backend attempt failed",
				"backend", name, "kind", bridge.KindOf(err), "error", err)
			return nil, false
		}

		chain := make([]string, 0, len(attempts))
		for _, a := range attempts {
			chain = append(chain, a.Backend)
		}
		resp.FallbackChain = chain
		return resp, true
	}

	if preferred != "" {
		if adapter, ok := r.Lookup(preferred); ok && adapter.Available() {
			if resp, ok := try(preferred); ok {
				return resp, nil
			}
		}
	}

	for _, name := range r.Chain() {
		if attempted[name] {
			continue
		}
		if resp, ok := try(name); ok {
			return resp, nil
		}
	}

	return nil, &bridge.ChainError{Attempts: attempts, Last: lastErr}
}
