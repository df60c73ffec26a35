// Package guard holds the proactive resource guards: the windowed rate
// limiter, the bounded concurrent request pool, the fuzzy-edit complexity
// validator, and the deadline wrapper for fuzzy work.
package guard

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/config"
	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
)

// Threshold names reported in denial reasons and metrics.
const (
	ThresholdRPM = "RPM"
	ThresholdRPD = "RPD"
	ThresholdTPM = "TPM"
)

// RateLimiter is the proactive per-provider quota guard. Windows are
// truncated to the minute and day boundaries, not sliding: the intent is
// cliff-avoidance with graceful reset, not instantaneous rate shaping.
// Crossing the threshold fraction opens an integrated breaker that
// auto-closes when the window that tripped it rolls over.
type RateLimiter struct {
	mu sync.Mutex

	limits config.RateLimitConfig

	minuteStart   time.Time
	minuteReqs    int
	minuteTokens  int
	dayStart      time.Time
	dayReqs       int

	breakerOpen   bool
	openThreshold string // which threshold tripped

	// Aggregate metrics.
	totalRequests     int64
	totalTokens       int64
	circuitOpenCount  int64
	lastOpenAt        time.Time
	limitReachedCount int64

	warned map[int]bool // usage warning steps already logged this window

	now func() time.Time // test hook
}

// NewRateLimiter creates a limiter with the given quota.
func NewRateLimiter(limits config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limits: limits,
		warned: make(map[int]bool),
		now:    time.Now,
	}
}

// Allow admits or denies a request carrying the given token estimate.
// Denials name the threshold that tripped. Implements backend.QuotaGuard.
func (l *RateLimiter) Allow(estimatedTokens int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()

	if l.breakerOpen {
		metrics.RateLimitDenied.WithLabelValues(l.openThreshold).Inc()
		return fmt.Errorf("rate limit breaker open (%s threshold)", l.openThreshold)
	}

	// After-this-request percentages against each limit.
	rpmPct := pct(l.minuteReqs+1, l.limits.RequestsPerMinute)
	rpdPct := pct(l.dayReqs+1, l.limits.RequestsPerDay)
	tpmPct := pct(l.minuteTokens+estimatedTokens, l.limits.TokensPerMinute)

	l.warnUsage(rpmPct, rpdPct, tpmPct)

	threshold := l.limits.Threshold * 100
	switch {
	case rpmPct > threshold:
		return l.deny(ThresholdRPM, rpmPct)
	case rpdPct > threshold:
		return l.deny(ThresholdRPD, rpdPct)
	case tpmPct > threshold:
		return l.deny(ThresholdTPM, tpmPct)
	}
	return nil
}

// deny opens the breaker attributing the threshold. Callers hold mu.
func (l *RateLimiter) deny(threshold string, usagePct float64) error {
	l.breakerOpen = true
	l.openThreshold = threshold
	l.circuitOpenCount++
	l.limitReachedCount++
	l.lastOpenAt = l.now()
	metrics.RateLimitDenied.WithLabelValues(threshold).Inc()
	metrics.RateLimitBreakerOpen.Inc()
	slog.Warn("Rate limit breaker opened",
		"threshold", threshold,
		"usage_pct", fmt.Sprintf("%.1f", usagePct))
	return fmt.Errorf("%s threshold exceeded: %.1f%% of limit", threshold, usagePct)
}

// Record reports the actual tokens used by an admitted request.
func (l *RateLimiter) Record(tokens int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	l.minuteReqs++
	l.minuteTokens += tokens
	l.dayReqs++
	l.totalRequests++
	l.totalTokens += int64(tokens)
}

// Open reports the breaker state. Implements backend.QuotaGuard.
func (l *RateLimiter) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.breakerOpen
}

// rollover resets expired windows and auto-closes the breaker when the
// window that tripped it expires. Callers hold mu.
func (l *RateLimiter) rollover() {
	now := l.now()
	minute := now.Truncate(time.Minute)
	day := now.Truncate(24 * time.Hour)

	if !minute.Equal(l.minuteStart) {
		minuteRolled := !l.minuteStart.IsZero()
		l.minuteStart = minute
		l.minuteReqs = 0
		l.minuteTokens = 0
		l.warned = make(map[int]bool)
		if minuteRolled && l.breakerOpen &&
			(l.openThreshold == ThresholdRPM || l.openThreshold == ThresholdTPM) {
			l.breakerOpen = false
			l.openThreshold = ""
			slog.Info("Rate limit breaker auto-closed on minute rollover")
		}
	}

	if !day.Equal(l.dayStart) {
		dayRolled := !l.dayStart.IsZero()
		l.dayStart = day
		l.dayReqs = 0
		if dayRolled && l.breakerOpen && l.openThreshold == ThresholdRPD {
			l.breakerOpen = false
			l.openThreshold = ""
			slog.Info("Rate limit breaker auto-closed on day rollover")
		}
	}
}

// warnUsage logs once per window as usage crosses 50, 60, 70 percent.
// Callers hold mu.
func (l *RateLimiter) warnUsage(rpmPct, rpdPct, tpmPct float64) {
	peak := rpmPct
	if rpdPct > peak {
		peak = rpdPct
	}
	if tpmPct > peak {
		peak = tpmPct
	}
	for _, step := range []int{50, 60, 70} {
		if peak >= float64(step) && !l.warned[step] {
			l.warned[step] = true
			slog.Warn("Rate limit usage climbing",
				"usage_pct", fmt.Sprintf("%.1f", peak),
				"step", step)
		}
	}
}

// Usage is a snapshot of limiter counters for reporting.
type Usage struct {
	MinuteRequests    int       `json:"minute_requests"`
	MinuteTokens      int       `json:"minute_tokens"`
	DayRequests       int       `json:"day_requests"`
	BreakerOpen       bool      `json:"breaker_open"`
	OpenThreshold     string    `json:"open_threshold,omitempty"`
	TotalRequests     int64     `json:"total_requests"`
	TotalTokens       int64     `json:"total_tokens"`
	CircuitOpenCount  int64     `json:"circuit_open_count"`
	LastOpenAt        time.Time `json:"last_open_at,omitzero"`
	LimitReachedCount int64     `json:"limit_reached_count"`
}

// Snapshot returns current counters.
func (l *RateLimiter) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return Usage{
		MinuteRequests:    l.minuteReqs,
		MinuteTokens:      l.minuteTokens,
		DayRequests:       l.dayReqs,
		BreakerOpen:       l.breakerOpen,
		OpenThreshold:     l.openThreshold,
		TotalRequests:     l.totalRequests,
		TotalTokens:       l.totalTokens,
		CircuitOpenCount:  l.circuitOpenCount,
		LastOpenAt:        l.lastOpenAt,
		LimitReachedCount: l.limitReachedCount,
	}
}

func pct(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) * 100 / float64(limit)
}
