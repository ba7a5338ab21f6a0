package config

import "fmt"

var knownScenarios = map[string]bool{
	"validator":   true,
	"marketplace": true,
	"state":       true,
	"netsim":      true,
	"workers":     true,
	"composite":   true,
	"chaos":       true,
}

var knownFormats = map[string]bool{
	"json": true,
	"text": true,
	"yaml": true,
}

// Validate rejects configurations that cannot run. Zero values that select
// engine defaults pass; only contradictory or out-of-range settings fail.
func (c *Config) Validate() error {
	if len(c.Run.Scales) == 0 {
		return fmt.Errorf("run: Scales must not be empty")
	}
	for _, s := range c.Run.Scales {
		if s <= 0 {
			return fmt.Errorf("run: scale %d must be positive", s)
		}
	}
	for _, sc := range c.Run.Scenarios {
		if !knownScenarios[sc] {
			return fmt.Errorf("run: unknown scenario %q", sc)
		}
	}
	for _, f := range c.Run.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("run: unknown report format %q", f)
		}
	}
	switch c.Run.Samples {
	case "", "none", "csv", "parquet":
	default:
		return fmt.Errorf("run: unknown sample format %q", c.Run.Samples)
	}
	if c.Run.RateLimit < 0 {
		return fmt.Errorf("run: RateLimit must not be negative")
	}

	if c.Validator.SlashBps > 10000 {
		return fmt.Errorf("validator: SlashBps %d exceeds 10000", c.Validator.SlashBps)
	}

	if err := rate("marketplace", "MaxBidFailureRate", c.Marketplace.MaxBidFailureRate); err != nil {
		return err
	}

	if r := c.Netsim.PartitionRatio; r != 0 && (r <= 0 || r >= 1) {
		return fmt.Errorf("netsim: PartitionRatio %v must be within (0, 1)", r)
	}
	if f := c.Netsim.MajorityFraction; f != 0 && (f <= 0 || f > 1) {
		return fmt.Errorf("netsim: MajorityFraction %v must be within (0, 1]", f)
	}
	if err := rate("netsim", "MaxDropRate", c.Netsim.MaxDropRate); err != nil {
		return err
	}

	if err := rate("workers", "FailureRate", c.Workers.FailureRate); err != nil {
		return err
	}
	if err := rate("resource", "MaxTimeoutRate", c.Resource.MaxTimeoutRate); err != nil {
		return err
	}

	if f := c.Chaos.FailFraction; f != 0 && (f <= 0 || f >= 1) {
		return fmt.Errorf("chaos: FailFraction %v must be within (0, 1)", f)
	}
	if err := rate("chaos", "MaxDegradation", c.Chaos.MaxDegradation); err != nil {
		return err
	}

	a := c.Analysis
	if a.AcceptableFactor < 0 || a.WarningFactor < 0 || a.CriticalFactor < 0 {
		return fmt.Errorf("analysis: factors must not be negative")
	}
	if a.AcceptableFactor > 0 && a.WarningFactor > 0 && a.WarningFactor < a.AcceptableFactor {
		return fmt.Errorf("analysis: WarningFactor %v below AcceptableFactor %v", a.WarningFactor, a.AcceptableFactor)
	}
	if a.WarningFactor > 0 && a.CriticalFactor > 0 && a.CriticalFactor < a.WarningFactor {
		return fmt.Errorf("analysis: CriticalFactor %v below WarningFactor %v", a.CriticalFactor, a.WarningFactor)
	}

	if (c.Telemetry.Metrics || c.Telemetry.Traces) && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
	}

	switch c.Observability.LogLevel {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("observability: unknown log level %q", c.Observability.LogLevel)
	}
	if c.Observability.LogMaxSizeMB < 0 || c.Observability.LogMaxBackups < 0 {
		return fmt.Errorf("observability: log rotation limits must not be negative")
	}
	return nil
}

func rate(section, field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s: %s %v must be within [0, 1]", section, field, v)
	}
	return nil
}
