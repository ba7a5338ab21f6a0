package perf

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Metric is one timed observation of an operation at a given scale. Drivers
// record one per operation and scale step; the analyzer never mutates them.
type Metric struct {
	Operation   string        `json:"operation" yaml:"operation"`
	Scale       int           `json:"scale" yaml:"scale"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Throughput  float64       `json:"throughput" yaml:"throughput"`
	MemoryDelta int64         `json:"memoryDelta" yaml:"memoryDelta"`
	Concurrency int           `json:"concurrency" yaml:"concurrency"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
}

// Classification labels how an operation's cost grows relative to scale.
type Classification string

const (
	ClassSubLinear   Classification = "sub-linear"
	ClassLinear      Classification = "linear"
	ClassSuperLinear Classification = "super-linear"
)

// Severity tags a scaling factor against the configured thresholds.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityDegraded Severity = "degraded"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityDegraded:
		return 1
	default:
		return 0
	}
}

// ScalingAnalysis summarises how one operation's duration grew across the
// sampled scales. ScalingFactor is the endpoint ratio
// (durationLast/durationFirst)/(scaleLast/scaleFirst); Exponent and RSquared
// are a log-log least-squares fit over all samples and are populated only
// when three or more samples exist.
type ScalingAnalysis struct {
	Operation      string         `json:"operation" yaml:"operation"`
	Samples        int            `json:"samples" yaml:"samples"`
	MinScale       int            `json:"minScale" yaml:"minScale"`
	MaxScale       int            `json:"maxScale" yaml:"maxScale"`
	ScalingFactor  float64        `json:"scalingFactor" yaml:"scalingFactor"`
	Classification Classification `json:"classification" yaml:"classification"`
	Assessment     string         `json:"assessment" yaml:"assessment"`
	Severity       Severity       `json:"severity" yaml:"severity"`
	Exponent       float64        `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	RSquared       float64        `json:"rSquared,omitempty" yaml:"rSquared,omitempty"`
	Bottleneck     string         `json:"bottleneck,omitempty" yaml:"bottleneck,omitempty"`
	Recommendation string         `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
}

// Thresholds are the scaling-factor budgets used to tag severities. A factor
// at or above Critical is the strongest finding; the zero value selects the
// defaults.
type Thresholds struct {
	Acceptable float64 `json:"acceptable" yaml:"acceptable"`
	Warning    float64 `json:"warning" yaml:"warning"`
	Critical   float64 `json:"critical" yaml:"critical"`
}

// DefaultThresholds returns the 2x/5x/10x budgets.
func DefaultThresholds() Thresholds {
	return Thresholds{Acceptable: 2, Warning: 5, Critical: 10}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.Acceptable <= 0 {
		t.Acceptable = def.Acceptable
	}
	if t.Warning <= t.Acceptable {
		t.Warning = math.Max(def.Warning, t.Acceptable)
	}
	if t.Critical <= t.Warning {
		t.Critical = math.Max(def.Critical, t.Warning)
	}
	return t
}

func (t Thresholds) severity(factor float64) Severity {
	switch {
	case factor >= t.Critical:
		return SeverityCritical
	case factor >= t.Warning:
		return SeverityWarning
	case factor >= t.Acceptable:
		return SeverityDegraded
	default:
		return SeverityNone
	}
}

// crossed returns the highest threshold the factor reached.
func (t Thresholds) crossed(factor float64) float64 {
	switch {
	case factor >= t.Critical:
		return t.Critical
	case factor >= t.Warning:
		return t.Warning
	case factor >= t.Acceptable:
		return t.Acceptable
	default:
		return 0
	}
}

var (
	ErrUnknownOperation    = errors.New("perf: unknown operation")
	ErrInsufficientSamples = errors.New("perf: need at least two samples at distinct scales")
)

// Analyzer accumulates metrics and derives per-operation scaling analyses.
// All state is owned by the instance; two runs in one process never share
// samples. Safe for concurrent use.
type Analyzer struct {
	mu         sync.Mutex
	samples    map[string][]Metric
	thresholds Thresholds
	now        func() time.Time
}

// NewAnalyzer returns an empty analyzer using the given thresholds, falling
// back to DefaultThresholds for unset fields.
func NewAnalyzer(t Thresholds) *Analyzer {
	return &Analyzer{
		samples:    make(map[string][]Metric),
		thresholds: t.withDefaults(),
		now:        time.Now,
	}
}

// RecordMetric appends a sample. A non-finite throughput is stored as zero
// and a zero timestamp is stamped with the current time.
func (a *Analyzer) RecordMetric(m Metric) {
	if math.IsNaN(m.Throughput) || math.IsInf(m.Throughput, 0) {
		m.Throughput = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.Timestamp.IsZero() {
		m.Timestamp = a.now()
	}
	a.samples[m.Operation] = append(a.samples[m.Operation], m)
}

// SampleCount reports the total number of recorded metrics.
func (a *Analyzer) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, list := range a.samples {
		total += len(list)
	}
	return total
}

// Operations returns the recorded operation names sorted alphabetically.
func (a *Analyzer) Operations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.samples))
	for name := range a.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Samples returns a copy of every recorded metric, ordered by operation name
// then ascending scale, for raw export.
func (a *Analyzer) Samples() []Metric {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Metric, 0)
	names := make([]string, 0, len(a.samples))
	for name := range a.samples {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		list := append([]Metric(nil), a.samples[name]...)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Scale < list[j].Scale })
		out = append(out, list...)
	}
	return out
}

// AnalyzeOperation derives the scaling analysis for one operation. It needs
// at least two samples at distinct scales; the scaling factor is the endpoint
// ratio between the smallest- and largest-scale samples.
func (a *Analyzer) AnalyzeOperation(name string) (ScalingAnalysis, error) {
	a.mu.Lock()
	list := append([]Metric(nil), a.samples[name]...)
	thresholds := a.thresholds
	a.mu.Unlock()

	if len(list) == 0 {
		return ScalingAnalysis{}, fmt.Errorf("%w: %q", ErrUnknownOperation, name)
	}
	if len(list) < 2 {
		return ScalingAnalysis{}, fmt.Errorf("%w: %q has %d", ErrInsufficientSamples, name, len(list))
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Scale < list[j].Scale })
	first, last := list[0], list[len(list)-1]
	if first.Scale == last.Scale {
		return ScalingAnalysis{}, fmt.Errorf("%w: %q sampled only scale %d", ErrInsufficientSamples, name, first.Scale)
	}

	// A zero-duration first sample would blow up the ratio.
	durFirst := math.Max(float64(first.Duration), 1)
	durRatio := float64(last.Duration) / durFirst
	scaleRatio := float64(last.Scale) / float64(first.Scale)
	factor := durRatio / scaleRatio

	class, assessment := classify(factor)
	out := ScalingAnalysis{
		Operation:      name,
		Samples:        len(list),
		MinScale:       first.Scale,
		MaxScale:       last.Scale,
		ScalingFactor:  factor,
		Classification: class,
		Assessment:     assessment,
		Severity:       thresholds.severity(factor),
	}
	if len(list) >= 3 {
		out.Exponent, out.RSquared = logLogFit(list)
	}
	if out.Severity != SeverityNone {
		out.Bottleneck = fmt.Sprintf("%s cost grew %.2fx per unit of scale between %d and %d", name, factor, first.Scale, last.Scale)
	}
	out.Recommendation = recommendationFor(name, factor, class)
	return out, nil
}

// AnalyzeAll analyses every operation that has enough samples, sorted worst
// first (highest scaling factor, name for ties). Operations without two
// distinct scales are skipped.
func (a *Analyzer) AnalyzeAll() []ScalingAnalysis {
	out := make([]ScalingAnalysis, 0)
	for _, name := range a.Operations() {
		analysis, err := a.AnalyzeOperation(name)
		if err != nil {
			continue
		}
		out = append(out, analysis)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScalingFactor != out[j].ScalingFactor {
			return out[i].ScalingFactor > out[j].ScalingFactor
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

func classify(factor float64) (Classification, string) {
	switch {
	case factor < 1.0:
		return ClassSubLinear, "optimal"
	case factor <= 2.0:
		return ClassLinear, "acceptable"
	default:
		return ClassSuperLinear, "investigate"
	}
}

func recommendationFor(name string, factor float64, class Classification) string {
	switch class {
	case ClassSuperLinear:
		return fmt.Sprintf("profile %s: duration grew %.1fx faster than scale; look for full scans, lock convoys, or quadratic work", name, factor)
	case ClassLinear:
		return fmt.Sprintf("%s scales linearly; keep per-item cost flat as scales grow", name)
	default:
		return fmt.Sprintf("%s scales sub-linearly; no action needed", name)
	}
}

// logLogFit fits log(duration) against log(scale) by least squares and
// returns the slope (the power-law exponent) and the coefficient of
// determination. Samples with non-positive scale or duration are skipped.
func logLogFit(list []Metric) (exponent, rSquared float64) {
	xs := make([]float64, 0, len(list))
	ys := make([]float64, 0, len(list))
	for _, m := range list {
		if m.Scale <= 0 || m.Duration <= 0 {
			continue
		}
		xs = append(xs, math.Log(float64(m.Scale)))
		ys = append(ys, math.Log(float64(m.Duration)))
	}
	n := float64(len(xs))
	if n < 3 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i := range xs {
		pred := intercept + slope*xs[i]
		ssRes += (ys[i] - pred) * (ys[i] - pred)
		ssTot += (ys[i] - meanY) * (ys[i] - meanY)
	}
	if ssTot == 0 {
		return slope, 1
	}
	return slope, 1 - ssRes/ssTot
}
