package perf

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment snapshots the host the run executed on.
type Environment struct {
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	GOOS      string `json:"goos" yaml:"goos"`
	GOARCH    string `json:"goarch" yaml:"goarch"`
	NumCPU    int    `json:"numCpu" yaml:"numCpu"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	RunID     string `json:"runId" yaml:"runId"`
}

// CaptureEnvironment reads the runtime metadata and mints a fresh run ID.
func CaptureEnvironment() Environment {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Environment{
		GoVersion: runtime.Version(),
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		Hostname:  hostname,
		RunID:     uuid.NewString(),
	}
}

// Bottleneck is an analysis whose scaling factor crossed a threshold.
type Bottleneck struct {
	Operation     string   `json:"operation" yaml:"operation"`
	Severity      Severity `json:"severity" yaml:"severity"`
	ScalingFactor float64  `json:"scalingFactor" yaml:"scalingFactor"`
	Threshold     float64  `json:"threshold" yaml:"threshold"`
	Detail        string   `json:"detail" yaml:"detail"`
}

// Report is the persisted artifact of a run: environment metadata, the
// per-operation analyses worst first, threshold findings, and prioritised
// recommendations.
type Report struct {
	GeneratedAt     time.Time         `json:"generatedAt" yaml:"generatedAt"`
	Environment     Environment       `json:"environment" yaml:"environment"`
	Thresholds      Thresholds        `json:"thresholds" yaml:"thresholds"`
	Samples         int               `json:"samples" yaml:"samples"`
	Analyses        []ScalingAnalysis `json:"analyses" yaml:"analyses"`
	Bottlenecks     []Bottleneck      `json:"bottlenecks" yaml:"bottlenecks"`
	Recommendations []string          `json:"recommendations" yaml:"recommendations"`
}

// Standing recommendations appended to every report regardless of findings.
const (
	recommendSharding = "shard hot engines horizontally before scaling vertically; every engine here serialises on a single lock"
	recommendMemory   = "provision memory headroom from the recorded deltas; snapshot create and apply double peak usage"
)

// GenerateReport analyses every operation with enough samples and builds the
// report. Bottlenecks and recommendations are ordered worst factor first; the
// two standing recommendations close the list.
func (a *Analyzer) GenerateReport() *Report {
	analyses := a.AnalyzeAll()
	report := &Report{
		GeneratedAt: a.now(),
		Environment: CaptureEnvironment(),
		Thresholds:  a.thresholds,
		Samples:     a.SampleCount(),
		Analyses:    analyses,
	}
	for _, an := range analyses {
		if an.Severity == SeverityNone {
			continue
		}
		report.Bottlenecks = append(report.Bottlenecks, Bottleneck{
			Operation:     an.Operation,
			Severity:      an.Severity,
			ScalingFactor: an.ScalingFactor,
			Threshold:     a.thresholds.crossed(an.ScalingFactor),
			Detail:        an.Bottleneck,
		})
		report.Recommendations = append(report.Recommendations, an.Recommendation)
	}
	sort.SliceStable(report.Bottlenecks, func(i, j int) bool {
		ri, rj := severityRank(report.Bottlenecks[i].Severity), severityRank(report.Bottlenecks[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return report.Bottlenecks[i].ScalingFactor > report.Bottlenecks[j].ScalingFactor
	})
	report.Recommendations = append(report.Recommendations, recommendSharding, recommendMemory)
	return report
}

// HasCritical reports whether any bottleneck reached the critical threshold.
func (r *Report) HasCritical() bool {
	for _, b := range r.Bottlenecks {
		if b.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("perf: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("perf: write json report: %w", err)
	}
	return nil
}

// WriteYAML writes the report as YAML.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("perf: marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("perf: write yaml report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable summary.
func (r *Report) WriteText(path string) error {
	if err := os.WriteFile(path, []byte(r.Text()), 0o644); err != nil {
		return fmt.Errorf("perf: write text report: %w", err)
	}
	return nil
}

// Text renders the human-readable summary used by WriteText.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", r.Environment.RunID)
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Host: %s (%s/%s, %d cpu), %s\n", r.Environment.Hostname, r.Environment.GOOS, r.Environment.GOARCH, r.Environment.NumCPU, r.Environment.GoVersion)
	fmt.Fprintf(&b, "Samples: %d across %d operations\n", r.Samples, len(r.Analyses))
	fmt.Fprintf(&b, "Thresholds: acceptable %.1fx, warning %.1fx, critical %.1fx\n", r.Thresholds.Acceptable, r.Thresholds.Warning, r.Thresholds.Critical)

	b.WriteString("\nScaling analyses (worst first):\n")
	if len(r.Analyses) == 0 {
		b.WriteString("  none (not enough samples)\n")
	}
	for _, an := range r.Analyses {
		fmt.Fprintf(&b, "  %-32s samples=%d scales=[%d..%d] factor=%.2f class=%s", an.Operation, an.Samples, an.MinScale, an.MaxScale, an.ScalingFactor, an.Classification)
		if an.Samples >= 3 {
			fmt.Fprintf(&b, " exponent=%.2f r2=%.3f", an.Exponent, an.RSquared)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nBottlenecks:\n")
	if len(r.Bottlenecks) == 0 {
		b.WriteString("  none\n")
	}
	for _, bn := range r.Bottlenecks {
		fmt.Fprintf(&b, "  [%s] %s: factor %.2f crossed the %.1fx threshold\n", bn.Severity, bn.Operation, bn.ScalingFactor, bn.Threshold)
	}

	b.WriteString("\nRecommendations:\n")
	for i, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
	}
	return b.String()
}
