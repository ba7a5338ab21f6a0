package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HarnessMetrics tracks counters for the simulated subsystems during a bench
// run. Collectors live on a private registry so repeated runs inside one
// process never trip duplicate-registration panics on the global default.
type HarnessMetrics struct {
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	roundOutcomes   *prometheus.CounterVec
	messagesDropped prometheus.Counter
	leasesActive    prometheus.Gauge
	opDuration      *prometheus.HistogramVec
	snapshotBytes   prometheus.Histogram
	resourceWait    prometheus.Histogram
}

var (
	harnessOnce     sync.Once
	harnessRegistry *HarnessMetrics
	registry        *prometheus.Registry
)

func Harness() *HarnessMetrics {
	harnessOnce.Do(func() {
		registry = prometheus.NewRegistry()
		harnessRegistry = &HarnessMetrics{
			eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerbench_events_processed_total",
				Help: "Count of processed workload events by kind.",
			}, []string{"kind"}),
			eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerbench_events_dropped_total",
				Help: "Count of workload events rejected or shed by reason.",
			}, []string{"reason"}),
			roundOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledgerbench_consensus_rounds_total",
				Help: "Count of simulated consensus rounds by outcome.",
			}, []string{"outcome"}),
			messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledgerbench_messages_dropped_total",
				Help: "Count of simulated network messages dropped in transit.",
			}),
			leasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "ledgerbench_leases_active",
				Help: "Number of marketplace leases currently active.",
			}),
			opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "ledgerbench_operation_duration_seconds",
				Help:    "Duration of instrumented subsystem operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"component", "op"}),
			snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "ledgerbench_snapshot_bytes",
				Help:    "Serialized size of state snapshots.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			}),
			resourceWait: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "ledgerbench_resource_wait_seconds",
				Help:    "Time spent waiting to acquire a bounded resource slot.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		registry.MustRegister(
			harnessRegistry.eventsProcessed,
			harnessRegistry.eventsDropped,
			harnessRegistry.roundOutcomes,
			harnessRegistry.messagesDropped,
			harnessRegistry.leasesActive,
			harnessRegistry.opDuration,
			harnessRegistry.snapshotBytes,
			harnessRegistry.resourceWait,
		)
	})
	return harnessRegistry
}

// Handler exposes the harness registry for the debug listener.
func Handler() http.Handler {
	Harness()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func (m *HarnessMetrics) ObserveEventProcessed(kind string) {
	if m == nil {
		return
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = "unknown"
	}
	m.eventsProcessed.WithLabelValues(kind).Inc()
}

func (m *HarnessMetrics) ObserveEventDropped(reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unknown"
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *HarnessMetrics) ObserveRound(advanced bool) {
	if m == nil {
		return
	}
	outcome := "advanced"
	if !advanced {
		outcome = "stalled"
	}
	m.roundOutcomes.WithLabelValues(outcome).Inc()
}

func (m *HarnessMetrics) AddMessagesDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.messagesDropped.Add(float64(n))
}

func (m *HarnessMetrics) SetLeasesActive(n int) {
	if m == nil {
		return
	}
	m.leasesActive.Set(float64(n))
}

func (m *HarnessMetrics) ObserveOpDuration(component, op string, seconds float64) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(component, op).Observe(seconds)
}

func (m *HarnessMetrics) ObserveSnapshotBytes(n int) {
	if m == nil {
		return
	}
	m.snapshotBytes.Observe(float64(n))
}

func (m *HarnessMetrics) ObserveResourceWait(seconds float64) {
	if m == nil {
		return
	}
	m.resourceWait.Observe(seconds)
}
