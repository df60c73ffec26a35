package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
)

// ErrFuzzyTimeout is returned when the deadline wrapper aborts fuzzy work.
var ErrFuzzyTimeout = fmt.Errorf("fuzzy operation timed out")

// WithTimeout races work against a deadline. On expiry the caller gets
// ErrFuzzyTimeout and a timeout metric event fires; the worker goroutine
// finishes on its own and its result is dropped. Intended to wrap the
// fuzzy-matching work itself, which lives outside this package.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, work func() (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := work()
		done <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		metrics.FuzzyTimeouts.Inc()
		return zero, fmt.Errorf("%w after %s", ErrFuzzyTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
