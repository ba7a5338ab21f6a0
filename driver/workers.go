package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ledgerbench/workers"
)

func (r *Runner) poolConfig() workers.Config {
	opts := r.opts.Workers
	return workers.Config{
		Workers:          opts.Workers,
		QueueCapacity:    opts.QueueCapacity,
		MaxInflight:      opts.MaxInflight,
		SimulatedLatency: opts.SimulatedLatency,
		FailureRate:      opts.FailureRate,
		Seed:             r.opts.Seed,
	}
}

// enqueueWithRetry spins on a full queue. Backpressure retry lives here in
// the driver; the pool itself only ever rejects.
func enqueueWithRetry(ctx context.Context, pool *workers.EventWorkerPool, ev workers.Event) error {
	for {
		err := pool.EnqueueEvent(ev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, workers.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Microsecond):
		}
	}
}

func waitForDrain(ctx context.Context, pool *workers.EventWorkerPool, want uint64) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		s := pool.Stats()
		if s.Processed+s.Failed+s.NoOps >= want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("driver: pool drained %d of %d events before deadline", s.Processed+s.Failed+s.NoOps, want)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *Runner) workersSweep(ctx context.Context, scale int) error {
	opts := r.opts.Workers

	// Flood an unstarted pool so nothing drains: accepted work equals the
	// total queue capacity, everything past it is rejected.
	flood := workers.NewEventWorkerPool(r.poolConfig())
	var accepted, rejected int
	if err := r.measure(ctx, "workers", "enqueue_flood", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			err := flood.EnqueueEvent(workers.Event{Kind: workers.EventGeneric, OrderID: uint64(i)})
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, workers.ErrQueueFull):
				rejected++
			default:
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	flood.Stop()
	capacity := opts.Workers * opts.QueueCapacity
	if scale > capacity && accepted != capacity {
		return fmt.Errorf("driver: flood accepted %d events, queue capacity is %d", accepted, capacity)
	}
	r.log.Info("enqueue flood finished",
		slog.Int("accepted", accepted),
		slog.Int("rejected", rejected))

	pool := workers.NewEventWorkerPool(r.poolConfig())
	if err := pool.Start(); err != nil {
		return err
	}
	err := r.measure(ctx, "workers", "process_events", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			ev := workers.Event{Kind: workers.EventGeneric, OrderID: uint64(i)}
			if err := enqueueWithRetry(ctx, pool, ev); err != nil {
				return err
			}
		}
		return waitForDrain(ctx, pool, uint64(scale))
	})
	pool.Stop()
	if err != nil {
		return err
	}
	stats := pool.Stats()
	r.log.Info("event processing finished",
		slog.Uint64("processed", stats.Processed),
		slog.Uint64("failed", stats.Failed),
		slog.Duration("p95_latency", stats.P95))

	return r.resourceContention(ctx, scale)
}

// resourceContention hammers a fixed-capacity pool with far more contenders
// than slots and aggregates the acquire timeout rate.
func (r *Runner) resourceContention(ctx context.Context, scale int) error {
	opts := r.opts.Resource
	pool := workers.NewResourcePool(opts.Capacity)

	holds := scale / opts.Contenders
	if holds < 1 {
		holds = 1
	}
	attempts := holds * opts.Contenders
	var timeouts atomic.Uint64

	err := r.measure(ctx, "workers", "resource_contention", scale, attempts, func() error {
		var firstErr error
		var errMu sync.Mutex
		var wg sync.WaitGroup
		for c := 0; c < opts.Contenders; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < holds; i++ {
					err := pool.Acquire(ctx, opts.AcquireTimeout)
					if errors.Is(err, workers.ErrAcquireTimeout) {
						timeouts.Add(1)
						continue
					}
					if err != nil {
						errMu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						errMu.Unlock()
						return
					}
					time.Sleep(opts.HoldTime)
					pool.Release()
				}
			}()
		}
		wg.Wait()
		return firstErr
	})
	if err != nil {
		return err
	}

	stats := pool.Stats()
	timeoutRate := float64(timeouts.Load()) / float64(attempts)
	r.log.Info("resource contention finished",
		slog.Int("capacity", stats.Capacity),
		slog.Uint64("timeouts", timeouts.Load()),
		slog.Float64("timeout_rate", timeoutRate),
		slog.Duration("max_wait", stats.MaxWait))
	if lim := opts.MaxTimeoutRate; lim > 0 && timeoutRate > lim {
		return fmt.Errorf("%w: resource timeout rate %.3f exceeds %.3f at scale %d", ErrThresholdViolated, timeoutRate, lim, scale)
	}
	return nil
}
