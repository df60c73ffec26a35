package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker("test", threshold, reset)
	now := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, now := newTestBreaker(5, 30*time.Second)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, BreakerClosed, b.State(), "still closed after %d failures", i+1)
		assert.True(t, b.Allow())
	}

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, *now, b.OpenedAt())
	assert.Equal(t, 5, b.ConsecutiveFailures())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(5, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, 0, b.ConsecutiveFailures())

	// A fresh streak is needed to open.
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	*now = now.Add(30 * time.Second)
	assert.True(t, b.Allow(), "reset timeout elapsed admits the probe")
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe in flight")
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(30 * time.Second)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, *now, b.OpenedAt(), "re-open refreshes the timestamp")
	assert.False(t, b.Allow())
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(2, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	*now = now.Add(time.Minute)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())
	assert.True(t, b.Allow())
}

func TestBreakerForceOpenIgnoresResetTimeout(t *testing.T) {
	b, now := newTestBreaker(5, 30*time.Second)

	b.ForceOpen()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	*now = now.Add(time.Hour)
	assert.False(t, b.Allow(), "forced-open never half-opens on its own")

	b.ForceClose()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())
}
