// Package metrics exposes the gateway's Prometheus collectors. Collectors
// are registered on the default registry and served at /metrics by the
// dashboard server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequests counts adapter round-trips by backend and outcome.
	BackendRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Backend requests by backend name and outcome.",
	}, []string{"backend", "outcome"})

	// BackendLatency observes adapter round-trip latency.
	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aibridge",
		Subsystem: "backend",
		Name:      "latency_seconds",
		Help:      "Backend request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"backend"})

	// RateLimitDenied counts proactive limiter denials by threshold.
	RateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "ratelimit",
		Name:      "denied_total",
		Help:      "Requests denied by the proactive rate limiter.",
	}, []string{"threshold"})

	// RateLimitBreakerOpen counts limiter breaker openings.
	RateLimitBreakerOpen = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "ratelimit",
		Name:      "breaker_open_total",
		Help:      "Times the rate-limit breaker opened.",
	})

	// PoolActive tracks currently running pool requests.
	PoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibridge",
		Subsystem: "pool",
		Name:      "active",
		Help:      "Currently active pool requests.",
	})

	// PoolQueued tracks queued pool requests by priority class.
	PoolQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aibridge",
		Subsystem: "pool",
		Name:      "queued",
		Help:      "Queued pool requests by priority class.",
	}, []string{"class"})

	// PoolCompleted counts completed pool requests.
	PoolCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "pool",
		Name:      "completed_total",
		Help:      "Completed pool requests.",
	})

	// FuzzyRejected counts fuzzy-edit validation rejections by reason.
	FuzzyRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "fuzzy",
		Name:      "rejected_total",
		Help:      "Fuzzy-edit validation rejections by reason.",
	}, []string{"reason"})

	// FuzzyTimeouts counts fuzzy operations aborted by the deadline wrapper.
	FuzzyTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "fuzzy",
		Name:      "timeouts_total",
		Help:      "Fuzzy operations aborted by the timeout wrapper.",
	})

	// OrchestratorTasks counts orchestrator task executions by phase and outcome.
	OrchestratorTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "orchestrator",
		Name:      "tasks_total",
		Help:      "Parallel-agents task executions by phase and outcome.",
	}, []string{"phase", "outcome"})

	// SubagentCalls counts subagent executions by role and outcome.
	SubagentCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibridge",
		Subsystem: "subagent",
		Name:      "calls_total",
		Help:      "Subagent executions by role and outcome.",
	}, []string{"role", "outcome"})
)
