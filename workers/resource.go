package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"ledgerbench/observability/metrics"
)

// ErrAcquireTimeout indicates no slot freed up within the caller's budget.
var ErrAcquireTimeout = errors.New("workers: resource acquire timeout")

// ResourcePool models a fixed-capacity shared resource. Capacity is set at
// construction; Acquire waits up to a caller-supplied timeout for a free slot
// and records the wait either way.
type ResourcePool struct {
	slots chan struct{}
	met   *metrics.HarnessMetrics

	mu        sync.Mutex
	waits     int
	timeouts  uint64
	totalWait time.Duration
	maxWait   time.Duration
}

func NewResourcePool(capacity int) *ResourcePool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &ResourcePool{
		slots: make(chan struct{}, capacity),
		met:   metrics.Harness(),
	}
	for i := 0; i < capacity; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// Acquire claims a slot, blocking up to timeout. Cancelling ctx aborts the
// wait with the context's error.
func (p *ResourcePool) Acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()

	select {
	case <-p.slots:
		p.recordWait(time.Since(start))
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.slots:
		p.recordWait(time.Since(start))
		return nil
	case <-timer.C:
		p.mu.Lock()
		p.timeouts++
		p.mu.Unlock()
		return ErrAcquireTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Releasing more than was acquired is a no-op.
func (p *ResourcePool) Release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}

func (p *ResourcePool) recordWait(wait time.Duration) {
	p.met.ObserveResourceWait(wait.Seconds())
	p.mu.Lock()
	p.waits++
	p.totalWait += wait
	if wait > p.maxWait {
		p.maxWait = wait
	}
	p.mu.Unlock()
}

// ResourceStats summarizes pool pressure.
type ResourceStats struct {
	Capacity int
	InUse    int
	Waits    int
	Timeouts uint64
	AvgWait  time.Duration
	MaxWait  time.Duration
}

func (p *ResourcePool) Stats() ResourceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := ResourceStats{
		Capacity: cap(p.slots),
		InUse:    cap(p.slots) - len(p.slots),
		Waits:    p.waits,
		Timeouts: p.timeouts,
		MaxWait:  p.maxWait,
	}
	if p.waits > 0 {
		s.AvgWait = p.totalWait / time.Duration(p.waits)
	}
	return s
}
