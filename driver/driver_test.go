package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgerbench/perf"
)

func fastOptions() Options {
	return Options{
		Scales: []int{16, 48},
		Seed:   7,
		Validator: ValidatorOptions{
			ChurnWorkers: 2,
			TopQueries:   20,
		},
		Marketplace: MarketplaceOptions{
			BidsPerOrder: 2,
			Contenders:   4,
		},
		Netsim: NetsimOptions{
			PartitionRatio: 0.75,
			Rounds:         3,
			Storms:         2,
			InboxCapacity:  256,
		},
		Workers: WorkersOptions{
			Workers:          4,
			QueueCapacity:    8,
			MaxInflight:      8,
			SimulatedLatency: 100 * time.Microsecond,
			FailureRate:      0.05,
		},
		Resource: ResourceOptions{
			Capacity:       4,
			Contenders:     8,
			HoldTime:       100 * time.Microsecond,
			AcquireTimeout: 20 * time.Millisecond,
		},
		Chaos: ChaosOptions{
			FailFraction: 0.25,
			Rounds:       3,
		},
	}
}

func newTestRunner(t *testing.T, opts Options) (*Runner, *perf.Analyzer) {
	t.Helper()
	analyzer := perf.NewAnalyzer(perf.Thresholds{})
	runner, err := NewRunner(opts, analyzer)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner, analyzer
}

func requireOps(t *testing.T, analyzer *perf.Analyzer, want ...string) {
	t.Helper()
	ops := analyzer.Operations()
	have := make(map[string]bool, len(ops))
	for _, op := range ops {
		have[op] = true
	}
	for _, op := range want {
		if !have[op] {
			t.Fatalf("operation %q not recorded, have %v", op, ops)
		}
	}
}

func TestMeasureRecordsMetric(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	err := runner.measure(context.Background(), "demo", "sleep", 10, 10, func() error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("measure: %v", err)
	}

	samples := analyzer.Samples()
	if len(samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(samples))
	}
	m := samples[0]
	if m.Operation != "demo.sleep" || m.Scale != 10 {
		t.Fatalf("metric = %+v", m)
	}
	if m.Duration < 2*time.Millisecond {
		t.Fatalf("duration = %v, want >= 2ms", m.Duration)
	}
	if m.Throughput <= 0 || m.Concurrency <= 0 {
		t.Fatalf("throughput = %v, concurrency = %d", m.Throughput, m.Concurrency)
	}
}

func TestMeasureSkipsMetricOnError(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	boom := errors.New("boom")
	if err := runner.measure(context.Background(), "demo", "fail", 10, 10, func() error {
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if n := analyzer.SampleCount(); n != 0 {
		t.Fatalf("samples = %d, want 0", n)
	}
}

func TestValidatorSweep(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	if err := runner.validatorSweep(context.Background(), 64); err != nil {
		t.Fatalf("validator sweep: %v", err)
	}
	requireOps(t, analyzer, "validator.add", "validator.get", "validator.top_by_power")
}

func TestValidatorSweepRealKeys(t *testing.T) {
	opts := fastOptions()
	opts.Validator.KeygenThreshold = 16
	runner, _ := newTestRunner(t, opts)
	if err := runner.validatorSweep(context.Background(), 8); err != nil {
		t.Fatalf("validator sweep with real keys: %v", err)
	}
}

func TestMarketplaceSweep(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	if err := runner.marketplaceSweep(context.Background(), 32); err != nil {
		t.Fatalf("marketplace sweep: %v", err)
	}
	requireOps(t, analyzer,
		"marketplace.create_order",
		"marketplace.submit_bid",
		"marketplace.match_order",
		"marketplace.close_order",
		"marketplace.bid_contention")
}

func TestStateSweepWithLevelDBArchive(t *testing.T) {
	opts := fastOptions()
	opts.State.ArchiveDir = t.TempDir()
	opts.State.ChunkSize = 512
	runner, analyzer := newTestRunner(t, opts)
	if err := runner.stateSweep(context.Background(), 64); err != nil {
		t.Fatalf("state sweep: %v", err)
	}
	requireOps(t, analyzer,
		"state.set",
		"state.get",
		"state.prefix_scan",
		"state.create_snapshot",
		"state.apply_snapshot",
		"state.archive_round_trip")
}

func TestNetsimSweep(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	if err := runner.netsimSweep(context.Background(), 30); err != nil {
		t.Fatalf("netsim sweep: %v", err)
	}
	requireOps(t, analyzer,
		"netsim.broadcast_storm",
		"netsim.partitioned_rounds",
		"netsim.healed_rounds")
}

func TestNetsimSweepClampsNodes(t *testing.T) {
	opts := fastOptions()
	opts.Netsim.MaxNodes = 10
	runner, analyzer := newTestRunner(t, opts)
	if err := runner.netsimSweep(context.Background(), 500); err != nil {
		t.Fatalf("netsim sweep: %v", err)
	}
	for _, m := range analyzer.Samples() {
		if m.Scale != 10 {
			t.Fatalf("scale = %d, want clamped 10", m.Scale)
		}
	}
}

func TestWorkersSweepBackpressure(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	// 4 workers x 8 slots = 32 accepted; the sweep errors internally if the
	// flood count disagrees.
	if err := runner.workersSweep(context.Background(), 300); err != nil {
		t.Fatalf("workers sweep: %v", err)
	}
	requireOps(t, analyzer,
		"workers.enqueue_flood",
		"workers.process_events",
		"workers.resource_contention")
}

func TestCompositeSweep(t *testing.T) {
	runner, analyzer := newTestRunner(t, fastOptions())
	if err := runner.compositeSweep(context.Background(), 40); err != nil {
		t.Fatalf("composite sweep: %v", err)
	}
	requireOps(t, analyzer, "composite.order_event_flow")
	for _, m := range analyzer.Samples() {
		if m.Operation == "composite.order_event_flow" && m.Throughput <= 0 {
			t.Fatalf("composite throughput = %v", m.Throughput)
		}
	}
}

func TestChaosSweepDeterministicDegradation(t *testing.T) {
	opts := fastOptions()
	opts.Chaos.FailFraction = 0.5
	opts.Chaos.MaxDegradation = 0.1
	runner, _ := newTestRunner(t, opts)

	// Unpartitioned rounds advance every live node, so failing half the
	// network degrades the advance count by exactly one half.
	err := runner.chaosSweep(context.Background(), 20)
	if !errors.Is(err, ErrThresholdViolated) {
		t.Fatalf("expected threshold violation, got %v", err)
	}
}

func TestChaosSweepWithinThreshold(t *testing.T) {
	opts := fastOptions()
	opts.Chaos.FailFraction = 0.25
	opts.Chaos.MaxDegradation = 0.5
	runner, _ := newTestRunner(t, opts)
	if err := runner.chaosSweep(context.Background(), 20); err != nil {
		t.Fatalf("chaos sweep: %v", err)
	}
}

func TestRunUnknownScenario(t *testing.T) {
	opts := fastOptions()
	opts.Scenarios = []Scenario{"bogus"}
	runner, _ := newTestRunner(t, opts)
	if err := runner.Run(context.Background()); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("expected unknown scenario error, got %v", err)
	}
}

func TestRunCollectsViolationsAndContinues(t *testing.T) {
	opts := fastOptions()
	opts.Scales = []int{20}
	opts.Scenarios = []Scenario{ScenarioChaos, ScenarioState}
	opts.Chaos.FailFraction = 0.5
	opts.Chaos.MaxDegradation = 0.1
	runner, analyzer := newTestRunner(t, opts)

	err := runner.Run(context.Background())
	if !errors.Is(err, ErrThresholdViolated) {
		t.Fatalf("expected joined threshold violation, got %v", err)
	}
	// The state scenario after the violating chaos one still ran.
	requireOps(t, analyzer, "state.set")
}

func TestRunFullSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("full suite run")
	}
	runner, analyzer := newTestRunner(t, fastOptions())
	if err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	report := analyzer.GenerateReport()
	if len(report.Analyses) == 0 {
		t.Fatalf("expected analyses from two scales")
	}
	if report.Samples != analyzer.SampleCount() {
		t.Fatalf("report samples = %d, analyzer = %d", report.Samples, analyzer.SampleCount())
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	runner, _ := newTestRunner(t, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
