package backend

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is the per-adapter consecutive-failure circuit breaker.
// N consecutive failures open it; after the reset timeout a single probe
// request is allowed through (half-open). A successful probe closes it,
// a failed probe re-opens it with a fresh timestamp.
type Breaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	resetTimeout     time.Duration

	state        BreakerState
	consecutive  int
	openedAt     time.Time
	forcedOpen   bool
	now          func() time.Time // test hook
}

// NewBreaker creates a closed breaker for the named backend.
func NewBreaker(name string, failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Allow reports whether a request may proceed. While open, requests are
// rejected until the reset timeout elapses; the first request after that
// transitions to half-open and is allowed as the single probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		// Only one probe in flight: subsequent calls are rejected until the
		// probe reports success or failure.
		return false
	case BreakerOpen:
		if b.forcedOpen {
			return false
		}
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			slog.Debug("Breaker half-open, permitting probe", "backend", b.name)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		slog.Info("Breaker closed after successful probe", "backend", b.name)
	}
	b.state = BreakerClosed
	b.consecutive = 0
	b.forcedOpen = false
}

// RecordFailure ticks the consecutive-failure counter and opens the breaker
// at the threshold. A half-open probe failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	if b.state == BreakerHalfOpen || b.consecutive >= b.failureThreshold {
		if b.state != BreakerOpen {
			slog.Warn("Breaker opened",
				"backend", b.name,
				"consecutive_failures", b.consecutive)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// ForceOpen opens the breaker until ForceClose or a successful probe after
// manual intervention. Operator hook.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerOpen
	b.forcedOpen = true
	b.openedAt = b.now()
	slog.Warn("Breaker force-opened", "backend", b.name)
}

// ForceClose closes the breaker and resets the failure counter. Operator hook.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutive = 0
	b.forcedOpen = false
	slog.Info("Breaker force-closed", "backend", b.name)
}

// State returns the current state without side effects.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenedAt returns when the breaker last opened (zero if never).
func (b *Breaker) OpenedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openedAt
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
