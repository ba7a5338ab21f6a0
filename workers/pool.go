package workers

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ledgerbench/observability/metrics"
)

type EventKind uint8

const (
	EventOrderCreated EventKind = iota
	EventLeaseSettled
	EventGeneric
)

func (k EventKind) String() string {
	switch k {
	case EventOrderCreated:
		return "order_created"
	case EventLeaseSettled:
		return "lease_settled"
	case EventGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Event is one unit of work routed into the pool.
type Event struct {
	Kind    EventKind
	OrderID uint64
	Payload []byte
}

var (
	ErrQueueFull = errors.New("workers: queue full")
	ErrStopped   = errors.New("workers: pool stopped")
	ErrStarted   = errors.New("workers: pool already started")
)

// Config sizes an EventWorkerPool.
type Config struct {
	Workers       int
	QueueCapacity int
	// MaxInflight caps each worker's concurrently active order operations.
	// An order-created event arriving at a saturated worker is a silent
	// no-op, not an error.
	MaxInflight      int
	SimulatedLatency time.Duration
	// FailureRate in [0,1] is the probability an accepted operation fails.
	FailureRate float64
	Seed        int64
	// OnOrderCreated, when set, runs for each accepted order-created event.
	// A returned error counts as an operation failure.
	OnOrderCreated func(Event) error
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = 16
	}
	if c.FailureRate < 0 {
		c.FailureRate = 0
	}
	if c.FailureRate > 1 {
		c.FailureRate = 1
	}
	return c
}

// EventWorkerPool models N independent daemons. Each worker owns one bounded
// queue and one consumption loop; EnqueueEvent routes round-robin and fails
// fast on a full queue. Backpressure is the caller's contract, the pool never
// blocks a producer. Latency samples are recorded under their own lock so
// queue delivery is never serialized behind bookkeeping.
type EventWorkerPool struct {
	cfg Config
	log *slog.Logger
	met *metrics.HarnessMetrics

	queues []chan Event
	next   atomic.Uint64

	inflight []atomic.Int64

	accepted  atomic.Uint64
	rejected  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	noops     atomic.Uint64

	latMu     sync.Mutex
	latencies []time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopped  atomic.Bool
	startMu  sync.Mutex
	stopOnce sync.Once
}

// NewEventWorkerPool builds a pool. Events may be enqueued before Start; they
// sit in the bounded queues until the loops come up.
func NewEventWorkerPool(cfg Config) *EventWorkerPool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &EventWorkerPool{
		cfg:      cfg,
		log:      slog.Default().With(slog.String("component", "workers")),
		met:      metrics.Harness(),
		queues:   make([]chan Event, cfg.Workers),
		inflight: make([]atomic.Int64, cfg.Workers),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := range p.queues {
		p.queues[i] = make(chan Event, cfg.QueueCapacity)
	}
	return p
}

// Start launches the worker loops.
func (p *EventWorkerPool) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.stopped.Load() {
		return ErrStopped
	}
	if p.started {
		return ErrStarted
	}
	p.started = true
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop cancels every loop and waits for in-flight operations to finish. It is
// idempotent.
func (p *EventWorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()
		p.wg.Wait()
	})
}

// EnqueueEvent routes an event to the next worker's queue without blocking.
// A full queue rejects immediately with ErrQueueFull.
func (p *EventWorkerPool) EnqueueEvent(ev Event) error {
	if p.stopped.Load() {
		return ErrStopped
	}
	idx := int(p.next.Add(1)-1) % len(p.queues)
	select {
	case p.queues[idx] <- ev:
		p.accepted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		p.met.ObserveEventDropped("queue_full")
		return ErrQueueFull
	}
}

func (p *EventWorkerPool) worker(id int) {
	defer p.wg.Done()
	rng := rand.New(rand.NewSource(p.cfg.Seed + int64(id)))
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.queues[id]:
			p.dispatch(id, ev, rng)
		}
	}
}

// dispatch applies the in-flight cap and hands accepted work to a goroutine,
// so the loop stays free to drain its queue. The failure draw happens here
// because the rng belongs to the loop.
func (p *EventWorkerPool) dispatch(id int, ev Event, rng *rand.Rand) {
	if ev.Kind == EventOrderCreated && p.inflight[id].Load() >= int64(p.cfg.MaxInflight) {
		p.noops.Add(1)
		p.met.ObserveEventDropped("inflight_cap")
		return
	}
	fail := rng.Float64() < p.cfg.FailureRate
	p.inflight[id].Add(1)
	p.wg.Add(1)
	go p.perform(id, ev, fail)
}

func (p *EventWorkerPool) perform(id int, ev Event, fail bool) {
	defer p.wg.Done()
	defer p.inflight[id].Add(-1)

	start := time.Now()
	if lat := p.cfg.SimulatedLatency; lat > 0 {
		timer := time.NewTimer(lat)
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			timer.Stop()
			return
		}
	}
	if !fail && ev.Kind == EventOrderCreated && p.cfg.OnOrderCreated != nil {
		if err := p.cfg.OnOrderCreated(ev); err != nil {
			fail = true
		}
	}
	elapsed := time.Since(start)

	if fail {
		p.failed.Add(1)
		p.met.ObserveEventDropped("operation_failed")
	} else {
		p.processed.Add(1)
		p.met.ObserveEventProcessed(ev.Kind.String())
	}

	p.latMu.Lock()
	p.latencies = append(p.latencies, elapsed)
	p.latMu.Unlock()
}

// Stats is a point-in-time view of pool counters and latency percentiles.
type Stats struct {
	Accepted   uint64
	Rejected   uint64
	Processed  uint64
	Failed     uint64
	NoOps      uint64
	QueueDepth int
	Samples    int
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	MaxLatency time.Duration
}

func (p *EventWorkerPool) Stats() Stats {
	s := Stats{
		Accepted:  p.accepted.Load(),
		Rejected:  p.rejected.Load(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		NoOps:     p.noops.Load(),
	}
	for _, q := range p.queues {
		s.QueueDepth += len(q)
	}

	p.latMu.Lock()
	samples := make([]time.Duration, len(p.latencies))
	copy(samples, p.latencies)
	p.latMu.Unlock()

	s.Samples = len(samples)
	if len(samples) == 0 {
		return s
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	s.P50 = percentileDuration(samples, 0.50)
	s.P95 = percentileDuration(samples, 0.95)
	s.P99 = percentileDuration(samples, 0.99)
	s.MaxLatency = samples[len(samples)-1]
	return s
}

// percentileDuration expects sorted input.
func percentileDuration(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}
