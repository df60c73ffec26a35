package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthMonitor periodically probes every enabled backend in the registry.
// Probes are advisory: they refresh each adapter's last-observed health but
// never tick breakers, which react only to real request outcomes.
type HealthMonitor struct {
	registry      *Registry
	checkInterval time.Duration
	probeTimeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	mu sync.Mutex
}

// NewHealthMonitor creates a monitor over the registry.
func NewHealthMonitor(registry *Registry, checkInterval, probeTimeout time.Duration) *HealthMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &HealthMonitor{
		registry:      registry,
		checkInterval: checkInterval,
		probeTimeout:  probeTimeout,
		logger:        slog.Default(),
	}
}

// Start launches the background probe loop.
// Calling Start on an already-running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return // already started
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop shuts the monitor down. After Stop returns, Start may be called again.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	// First sweep immediately so health is populated at startup.
	m.sweep(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep probes every enabled backend concurrently.
func (m *HealthMonitor) sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range m.registry.Chain() {
		adapter, ok := m.registry.Lookup(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, adapter Adapter) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			defer cancel()

			status := adapter.HealthProbe(probeCtx)
			if status != nil && !status.Healthy {
				m.logger.Warn("Backend unhealthy",
					"backend", name, "error", status.Error)
			}
		}(name, adapter)
	}
	wg.Wait()
}
