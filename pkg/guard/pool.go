package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Platano78/smart-ai-bridge/pkg/metrics"
)

// Priority is the pool admission class. Priority work is drained strictly
// before normal work when a slot frees; once running there is no preemption.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// throughputWindow is the retention window of the rolling 1-second buckets.
const throughputWindow = 10

// Pool bounds request parallelism with two FIFO admission queues.
type Pool struct {
	mu sync.Mutex

	maxConcurrent int
	active        map[string]*poolRequest
	priorityQ     []*poolRequest
	normalQ       []*poolRequest

	// Rolling metrics, serialized by mu.
	totalSubmitted    int64
	completed         int64
	totalResponseTime time.Duration
	totalQueueWait    time.Duration
	peakConcurrency   int
	buckets           map[int64]int // unix-second → completions

	now func() time.Time // test hook
}

type poolRequest struct {
	id        string
	enqueued  time.Time
	started   time.Time
	priority  Priority
	ready     chan struct{}
	abandoned bool
}

// NewPool creates a pool admitting up to maxConcurrent requests.
func NewPool(maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*poolRequest),
		buckets:       make(map[int64]int),
		now:           time.Now,
	}
}

// Resize adjusts the concurrency bound. Running work is unaffected; the new
// bound applies as slots free.
func (p *Pool) Resize(maxConcurrent int) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	p.mu.Lock()
	p.maxConcurrent = maxConcurrent
	p.mu.Unlock()
	p.dispatch()
}

// Submit runs work within the concurrency bound, queueing when full.
// Queued work honors ctx cancellation; running work does not (no
// preemption — a deadline expiry aborts only the underlying request).
func Submit[T any](ctx context.Context, p *Pool, priority Priority, work func() (T, error)) (T, error) {
	var zero T
	req, err := p.admit(ctx, priority)
	if err != nil {
		return zero, err
	}

	result, workErr := work()
	p.release(req)
	return result, workErr
}

// admit blocks until a slot is granted or ctx is done.
func (p *Pool) admit(ctx context.Context, priority Priority) (*poolRequest, error) {
	req := &poolRequest{
		id:       uuid.NewString(),
		enqueued: p.now(),
		priority: priority,
		ready:    make(chan struct{}),
	}

	p.mu.Lock()
	p.totalSubmitted++
	if len(p.active) < p.maxConcurrent {
		p.start(req)
		p.mu.Unlock()
		return req, nil
	}
	if priority == PriorityHigh {
		p.priorityQ = append(p.priorityQ, req)
		metrics.PoolQueued.WithLabelValues("high").Inc()
	} else {
		p.normalQ = append(p.normalQ, req)
		metrics.PoolQueued.WithLabelValues("normal").Inc()
	}
	p.mu.Unlock()

	select {
	case <-req.ready:
		return req, nil
	case <-ctx.Done():
		p.mu.Lock()
		// The slot may have been granted while we were cancelling.
		select {
		case <-req.ready:
			p.mu.Unlock()
			return req, nil
		default:
		}
		req.abandoned = true
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// start marks a request active. Callers hold mu.
func (p *Pool) start(req *poolRequest) {
	req.started = p.now()
	p.active[req.id] = req
	p.totalQueueWait += req.started.Sub(req.enqueued)
	if len(p.active) > p.peakConcurrency {
		p.peakConcurrency = len(p.active)
	}
	metrics.PoolActive.Set(float64(len(p.active)))
}

// release frees a slot, records completion metrics, and grants the slot to
// the next queued request (priority queue first).
func (p *Pool) release(req *poolRequest) {
	now := p.now()

	p.mu.Lock()
	delete(p.active, req.id)
	p.completed++
	p.totalResponseTime += now.Sub(req.started)
	p.buckets[now.Unix()]++
	p.pruneBuckets(now)
	metrics.PoolActive.Set(float64(len(p.active)))
	metrics.PoolCompleted.Inc()
	p.mu.Unlock()

	p.dispatch()
}

// dispatch grants free slots to queued requests, priority class first.
func (p *Pool) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.active) < p.maxConcurrent {
		req := p.popLocked()
		if req == nil {
			return
		}
		if req.abandoned {
			continue
		}
		p.start(req)
		close(req.ready)
	}
}

// popLocked removes the next queued request. Callers hold mu.
func (p *Pool) popLocked() *poolRequest {
	if len(p.priorityQ) > 0 {
		req := p.priorityQ[0]
		p.priorityQ = p.priorityQ[1:]
		metrics.PoolQueued.WithLabelValues("high").Dec()
		return req
	}
	if len(p.normalQ) > 0 {
		req := p.normalQ[0]
		p.normalQ = p.normalQ[1:]
		metrics.PoolQueued.WithLabelValues("normal").Dec()
		return req
	}
	return nil
}

func (p *Pool) pruneBuckets(now time.Time) {
	cutoff := now.Unix() - throughputWindow
	for sec := range p.buckets {
		if sec < cutoff {
			delete(p.buckets, sec)
		}
	}
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	MaxConcurrent   int           `json:"max_concurrent"`
	Active          int           `json:"active"`
	QueuedHigh      int           `json:"queued_high"`
	QueuedNormal    int           `json:"queued_normal"`
	TotalSubmitted  int64         `json:"total_submitted"`
	Completed       int64         `json:"completed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	AvgQueueWait    time.Duration `json:"avg_queue_wait"`
	PeakConcurrency int           `json:"peak_concurrency"`
	ThroughputPerSec float64      `json:"throughput_per_sec"`
}

// Stats returns current counters. Throughput is the mean of the non-empty
// 1-second buckets within the retention window.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.pruneBuckets(now)

	st := PoolStats{
		MaxConcurrent:   p.maxConcurrent,
		Active:          len(p.active),
		QueuedHigh:      len(p.priorityQ),
		QueuedNormal:    len(p.normalQ),
		TotalSubmitted:  p.totalSubmitted,
		Completed:       p.completed,
		PeakConcurrency: p.peakConcurrency,
	}
	if p.completed > 0 {
		st.AvgResponseTime = p.totalResponseTime / time.Duration(p.completed)
	}
	if p.totalSubmitted > 0 {
		st.AvgQueueWait = p.totalQueueWait / time.Duration(p.totalSubmitted)
	}
	if n := len(p.buckets); n > 0 {
		sum := 0
		for _, c := range p.buckets {
			sum += c
		}
		st.ThroughputPerSec = float64(sum) / float64(n)
	}
	return st
}
