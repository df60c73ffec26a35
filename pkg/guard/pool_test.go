package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Submit(context.Background(), p, PriorityNormal, func() (int, error) {
				n := active.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return 0, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	st := p.Stats()
	assert.Equal(t, int64(20), st.TotalSubmitted)
	assert.Equal(t, int64(20), st.Completed)
	assert.Equal(t, 0, st.Active)
	assert.LessOrEqual(t, st.PeakConcurrency, 3)
}

func TestPoolPriorityDrainedFirst(t *testing.T) {
	p := NewPool(1)

	block := make(chan struct{})
	occupied := make(chan struct{})
	go func() {
		_, _ = Submit(context.Background(), p, PriorityNormal, func() (int, error) {
			close(occupied)
			<-block
			return 0, nil
		})
	}()
	<-occupied

	var order []string
	var mu sync.Mutex
	record := func(tag string) func() (int, error) {
		return func() (int, error) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
			return 0, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = Submit(context.Background(), p, PriorityNormal, record("normal"))
	}()
	time.Sleep(20 * time.Millisecond) // normal enqueued first
	go func() {
		defer wg.Done()
		_, _ = Submit(context.Background(), p, PriorityHigh, record("high"))
	}()
	time.Sleep(20 * time.Millisecond)

	close(block)
	wg.Wait()

	require.Equal(t, []string{"high", "normal"}, order)
}

func TestPoolQueuedCancellation(t *testing.T) {
	p := NewPool(1)

	block := make(chan struct{})
	occupied := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Submit(context.Background(), p, PriorityNormal, func() (int, error) {
			close(occupied)
			<-block
			return 0, nil
		})
	}()
	<-occupied

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Submit(ctx, p, PriorityNormal, func() (int, error) {
		t.Error("cancelled work must not run")
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(block)
	<-done

	// The abandoned entry is skipped; the pool stays usable.
	v, err := Submit(context.Background(), p, PriorityNormal, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPoolResize(t *testing.T) {
	p := NewPool(1)
	p.Resize(4)
	assert.Equal(t, 4, p.Stats().MaxConcurrent)

	p.Resize(0) // clamps to 1
	assert.Equal(t, 1, p.Stats().MaxConcurrent)
}

func TestPoolThroughputBuckets(t *testing.T) {
	p := NewPool(2)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	current := base
	p.now = func() time.Time { return current }

	for i := 0; i < 6; i++ {
		_, err := Submit(context.Background(), p, PriorityNormal, func() (int, error) { return 0, nil })
		require.NoError(t, err)
		current = current.Add(500 * time.Millisecond)
	}

	// Six completions across three occupied 1-second buckets.
	st := p.Stats()
	assert.InDelta(t, 2.0, st.ThroughputPerSec, 0.01)

	// Buckets outside the 10s retention window are pruned.
	current = current.Add(time.Minute)
	st = p.Stats()
	assert.Equal(t, 0.0, st.ThroughputPerSec)
}
