// Package driver runs scale sweeps against the harness engines and feeds the
// resulting timings into a perf.Analyzer. Engines never retry and never see
// the analyzer; the driver owns pacing, aggregation, and threshold checks.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"ledgerbench/observability/metrics"
	"ledgerbench/perf"
)

// Scenario names one sweep of the suite.
type Scenario string

const (
	ScenarioValidator   Scenario = "validator"
	ScenarioMarketplace Scenario = "marketplace"
	ScenarioState       Scenario = "state"
	ScenarioNetsim      Scenario = "netsim"
	ScenarioWorkers     Scenario = "workers"
	ScenarioComposite   Scenario = "composite"
	ScenarioChaos       Scenario = "chaos"
)

// AllScenarios returns the suite in its canonical run order.
func AllScenarios() []Scenario {
	return []Scenario{
		ScenarioValidator,
		ScenarioMarketplace,
		ScenarioState,
		ScenarioNetsim,
		ScenarioWorkers,
		ScenarioComposite,
		ScenarioChaos,
	}
}

var (
	ErrUnknownScenario   = errors.New("driver: unknown scenario")
	ErrThresholdViolated = errors.New("driver: scenario threshold violated")
)

// ValidatorOptions tunes the validator sweep.
type ValidatorOptions struct {
	// KeygenThreshold is the largest scale that still generates real
	// secp256k1 keys; above it records carry derived key material.
	KeygenThreshold int
	ChurnWorkers    int
	SlashBps        uint32
	TopN            int
	TopQueries      int
}

// MarketplaceOptions tunes the marketplace sweep. MaxBidFailureRate of zero
// disables the threshold check.
type MarketplaceOptions struct {
	BidsPerOrder      int
	Contenders        int
	MaxBidFailureRate float64
}

// StateOptions tunes the state sweep. An empty ArchiveDir archives snapshots
// into an in-memory database instead of LevelDB.
type StateOptions struct {
	ChunkSize  int
	ArchiveDir string
}

// NetsimOptions tunes the network sweeps. Consensus rounds are O(n^2) in
// node count, so MaxNodes caps the network size regardless of scale.
type NetsimOptions struct {
	PartitionRatio   float64
	Rounds           int
	Storms           int
	InboxCapacity    int
	MajorityFraction float64
	MaxNodes         int
	MaxDropRate      float64
}

// WorkersOptions tunes the event pool sweeps.
type WorkersOptions struct {
	Workers          int
	QueueCapacity    int
	MaxInflight      int
	SimulatedLatency time.Duration
	FailureRate      float64
}

// ResourceOptions tunes the resource pool contention sweep.
type ResourceOptions struct {
	Capacity       int
	Contenders     int
	HoldTime       time.Duration
	AcquireTimeout time.Duration
	MaxTimeoutRate float64
}

// ChaosOptions tunes the chaos sweep, the only place nodes are failed.
type ChaosOptions struct {
	FailFraction   float64
	Rounds         int
	MaxDegradation float64
}

// Options configures a Runner. Zero values select the defaults below.
type Options struct {
	Scales []int
	Seed   int64
	// Scenarios restricts the suite; empty runs everything.
	Scenarios []Scenario
	// RateLimit paces measured operations per second; zero disables pacing.
	RateLimit float64

	Validator   ValidatorOptions
	Marketplace MarketplaceOptions
	State       StateOptions
	Netsim      NetsimOptions
	Workers     WorkersOptions
	Resource    ResourceOptions
	Chaos       ChaosOptions
}

func (o Options) withDefaults() Options {
	if len(o.Scales) == 0 {
		o.Scales = []int{100, 1000, 10000}
	}
	if o.Seed == 0 {
		o.Seed = 42
	}
	if len(o.Scenarios) == 0 {
		o.Scenarios = AllScenarios()
	}
	if o.Validator.KeygenThreshold < 0 {
		o.Validator.KeygenThreshold = 0
	}
	if o.Validator.ChurnWorkers <= 0 {
		o.Validator.ChurnWorkers = 4
	}
	if o.Validator.SlashBps == 0 {
		o.Validator.SlashBps = 500
	}
	if o.Validator.TopN <= 0 {
		o.Validator.TopN = 10
	}
	if o.Validator.TopQueries <= 0 {
		o.Validator.TopQueries = 100
	}
	if o.Marketplace.BidsPerOrder <= 0 {
		o.Marketplace.BidsPerOrder = 3
	}
	if o.Marketplace.Contenders <= 0 {
		o.Marketplace.Contenders = 8
	}
	if o.State.ChunkSize <= 0 {
		o.State.ChunkSize = 16384
	}
	if o.Netsim.PartitionRatio <= 0 || o.Netsim.PartitionRatio >= 1 {
		o.Netsim.PartitionRatio = 0.67
	}
	if o.Netsim.Rounds <= 0 {
		o.Netsim.Rounds = 10
	}
	if o.Netsim.Storms <= 0 {
		o.Netsim.Storms = 3
	}
	if o.Netsim.InboxCapacity <= 0 {
		o.Netsim.InboxCapacity = 1024
	}
	if o.Netsim.MaxNodes <= 0 {
		o.Netsim.MaxNodes = 1000
	}
	if o.Workers.Workers <= 0 {
		o.Workers.Workers = 8
	}
	if o.Workers.QueueCapacity <= 0 {
		o.Workers.QueueCapacity = 64
	}
	if o.Workers.MaxInflight <= 0 {
		o.Workers.MaxInflight = 16
	}
	if o.Workers.SimulatedLatency <= 0 {
		o.Workers.SimulatedLatency = 2 * time.Millisecond
	}
	if o.Resource.Capacity <= 0 {
		o.Resource.Capacity = 16
	}
	if o.Resource.Contenders <= 0 {
		o.Resource.Contenders = 64
	}
	if o.Resource.HoldTime <= 0 {
		o.Resource.HoldTime = time.Millisecond
	}
	if o.Resource.AcquireTimeout <= 0 {
		o.Resource.AcquireTimeout = 50 * time.Millisecond
	}
	if o.Chaos.FailFraction <= 0 || o.Chaos.FailFraction >= 1 {
		o.Chaos.FailFraction = 0.2
	}
	if o.Chaos.Rounds <= 0 {
		o.Chaos.Rounds = 5
	}
	return o
}

// Runner executes the configured scenarios across the configured scales.
type Runner struct {
	opts     Options
	analyzer *perf.Analyzer
	log      *slog.Logger
	met      *metrics.HarnessMetrics
	limiter  *rate.Limiter
}

// NewRunner builds a runner recording into the given analyzer.
func NewRunner(opts Options, analyzer *perf.Analyzer) (*Runner, error) {
	if analyzer == nil {
		return nil, errors.New("driver: nil analyzer")
	}
	opts = opts.withDefaults()
	r := &Runner{
		opts:     opts,
		analyzer: analyzer,
		log:      slog.Default().With(slog.String("component", "driver")),
		met:      metrics.Harness(),
	}
	if opts.RateLimit > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return r, nil
}

// Run executes every configured scenario at every scale. Threshold
// violations are collected and returned joined after the full suite;
// any other failure aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	var violations []error
	for _, sc := range r.opts.Scenarios {
		for _, scale := range r.opts.Scales {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.log.Info("scenario start",
				slog.String("scenario", string(sc)),
				slog.Int("scale", scale))
			start := time.Now()
			err := r.runScenario(ctx, sc, scale)
			switch {
			case err == nil:
				r.log.Info("scenario done",
					slog.String("scenario", string(sc)),
					slog.Int("scale", scale),
					slog.Duration("elapsed", time.Since(start)))
			case errors.Is(err, ErrThresholdViolated):
				violations = append(violations, err)
				r.log.Warn("scenario threshold violated",
					slog.String("scenario", string(sc)),
					slog.Int("scale", scale),
					slog.String("error", err.Error()))
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				return fmt.Errorf("driver: scenario %s at scale %d: %w", sc, scale, err)
			}
		}
	}
	return errors.Join(violations...)
}

func (r *Runner) runScenario(ctx context.Context, sc Scenario, scale int) error {
	switch sc {
	case ScenarioValidator:
		return r.validatorSweep(ctx, scale)
	case ScenarioMarketplace:
		return r.marketplaceSweep(ctx, scale)
	case ScenarioState:
		return r.stateSweep(ctx, scale)
	case ScenarioNetsim:
		return r.netsimSweep(ctx, scale)
	case ScenarioWorkers:
		return r.workersSweep(ctx, scale)
	case ScenarioComposite:
		return r.compositeSweep(ctx, scale)
	case ScenarioChaos:
		return r.chaosSweep(ctx, scale)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, sc)
	}
}

// measure times fn over items units of work at the given scale and records
// one perf.Metric. The heap is settled with a GC first so the memory delta
// reflects the operation, not leftovers from the previous one. A failing fn
// records nothing.
func (r *Runner) measure(ctx context.Context, component, op string, scale, items int, fn func() error) error {
	if err := r.pace(ctx); err != nil {
		return err
	}
	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(items) / secs
	}
	r.analyzer.RecordMetric(perf.Metric{
		Operation:   component + "." + op,
		Scale:       scale,
		Duration:    elapsed,
		Throughput:  throughput,
		MemoryDelta: int64(after.HeapAlloc) - int64(before.HeapAlloc),
		Concurrency: runtime.NumGoroutine(),
		Timestamp:   start,
	})
	r.met.ObserveOpDuration(component, op, elapsed.Seconds())
	return nil
}

func (r *Runner) pace(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}
