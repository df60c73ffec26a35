package backend

import (
	"sync"
	"time"
)

// Stats is a snapshot of one adapter's rolling counters.
type Stats struct {
	Total        int64         `json:"total"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	TotalLatency time.Duration `json:"total_latency"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// statsTracker serializes counter updates for one adapter.
// Average latency is computed over succeeded calls only.
type statsTracker struct {
	mu           sync.Mutex
	total        int64
	succeeded    int64
	failed       int64
	totalLatency time.Duration
}

func (s *statsTracker) recordSuccess(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.succeeded++
	s.totalLatency += latency
}

func (s *statsTracker) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
}

func (s *statsTracker) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Total:        s.total,
		Succeeded:    s.succeeded,
		Failed:       s.failed,
		TotalLatency: s.totalLatency,
	}
	if s.succeeded > 0 {
		st.AvgLatency = s.totalLatency / time.Duration(s.succeeded)
	}
	return st
}

// healthState stores the latest observed probe result with monotonic
// timestamps per backend.
type healthState struct {
	mu   sync.RWMutex
	last *HealthSnapshot
}

// HealthSnapshot mirrors bridge.HealthStatus internally; kept separate so
// the adapter can enforce timestamp monotonicity before publishing.
type HealthSnapshot struct {
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
	Error     string
	Model     string
}

func (h *healthState) set(s *HealthSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Monotonic: never regress the checked-at timestamp.
	if h.last != nil && s.CheckedAt.Before(h.last.CheckedAt) {
		return
	}
	h.last = s
}

func (h *healthState) get() *HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return nil
	}
	cp := *h.last
	return &cp
}
