package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full benchmark configuration, one table per concern.
type Config struct {
	Run           Run           `toml:"run"`
	Validator     Validator     `toml:"validator"`
	Marketplace   Marketplace   `toml:"marketplace"`
	State         State         `toml:"state"`
	Netsim        Netsim        `toml:"netsim"`
	Workers       Workers       `toml:"workers"`
	Resource      Resource      `toml:"resource"`
	Chaos         Chaos         `toml:"chaos"`
	Analysis      Analysis      `toml:"analysis"`
	Telemetry     Telemetry     `toml:"telemetry"`
	Observability Observability `toml:"observability"`
}

// DefaultConfig returns the configuration a fresh install runs with.
func DefaultConfig() *Config {
	return &Config{
		Run: Run{
			Scales:    []int{100, 1000, 10000},
			Seed:      42,
			Scenarios: []string{},
			OutputDir: "./bench-out",
			Formats:   []string{"json", "text"},
			Samples:   "csv",
		},
		Validator: Validator{
			KeygenThreshold: 256,
			ChurnWorkers:    4,
			SlashBps:        500,
			TopN:            10,
			TopQueries:      100,
		},
		Marketplace: Marketplace{
			BidsPerOrder: 3,
			Contenders:   8,
		},
		State: State{
			ChunkSize: 16384,
		},
		Netsim: Netsim{
			PartitionRatio:   0.67,
			Rounds:           10,
			Storms:           3,
			InboxCapacity:    1024,
			MajorityFraction: 0.667,
			MaxNodes:         1000,
		},
		Workers: Workers{
			Workers:                8,
			QueueCapacity:          64,
			MaxInflight:            16,
			SimulatedLatencyMillis: 2,
			FailureRate:            0.05,
		},
		Resource: Resource{
			Capacity:             16,
			Contenders:           64,
			HoldTimeMillis:       1,
			AcquireTimeoutMillis: 50,
		},
		Chaos: Chaos{
			FailFraction: 0.2,
			Rounds:       5,
		},
		Analysis: Analysis{
			AcceptableFactor: 2,
			WarningFactor:    5,
			CriticalFactor:   10,
		},
		Observability: Observability{
			LogLevel:      "info",
			LogMaxSizeMB:  64,
			LogMaxBackups: 3,
		},
	}
}

// Load reads the configuration from the given path. A missing file is
// created with the defaults and returned. Unknown keys are rejected so a
// typoed threshold can never silently disable a check.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Run.Scales == nil {
		c.Run.Scales = []int{}
	}
	if c.Run.Scenarios == nil {
		c.Run.Scenarios = []string{}
	}
	if c.Run.Formats == nil {
		c.Run.Formats = []string{}
	}
	for i, f := range c.Run.Formats {
		c.Run.Formats[i] = strings.ToLower(strings.TrimSpace(f))
	}
	for i, s := range c.Run.Scenarios {
		c.Run.Scenarios[i] = strings.ToLower(strings.TrimSpace(s))
	}
	c.Run.Samples = strings.ToLower(strings.TrimSpace(c.Run.Samples))
	c.Run.OutputDir = strings.TrimSpace(c.Run.OutputDir)
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = "./bench-out"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
