package config

// Run controls which sweeps execute, at which scales, and where reports land.
type Run struct {
	Scales    []int    `toml:"Scales"`
	Seed      int64    `toml:"Seed"`
	Scenarios []string `toml:"Scenarios"`
	OutputDir string   `toml:"OutputDir"`
	// Formats lists report encodings to write: json, text, yaml.
	Formats []string `toml:"Formats"`
	// Samples selects the raw metric annex: csv, parquet or none.
	Samples string `toml:"Samples"`
	// RateLimit paces measured operations per second; zero disables pacing.
	RateLimit      float64 `toml:"RateLimit"`
	FailOnCritical bool    `toml:"FailOnCritical"`
}

// Validator tunes the registry sweep.
type Validator struct {
	KeygenThreshold int    `toml:"KeygenThreshold"`
	ChurnWorkers    int    `toml:"ChurnWorkers"`
	SlashBps        uint32 `toml:"SlashBps"`
	TopN            int    `toml:"TopN"`
	TopQueries      int    `toml:"TopQueries"`
}

// Marketplace tunes the order-matching sweep.
type Marketplace struct {
	BidsPerOrder      int     `toml:"BidsPerOrder"`
	Contenders        int     `toml:"Contenders"`
	MaxBidFailureRate float64 `toml:"MaxBidFailureRate"`
}

// State tunes the store and snapshot sweep. An empty ArchiveDir keeps
// snapshot archival in memory instead of LevelDB.
type State struct {
	ChunkSize  int    `toml:"ChunkSize"`
	ArchiveDir string `toml:"ArchiveDir"`
}

// Netsim tunes the partition sweeps.
type Netsim struct {
	PartitionRatio   float64 `toml:"PartitionRatio"`
	Rounds           int     `toml:"Rounds"`
	Storms           int     `toml:"Storms"`
	InboxCapacity    int     `toml:"InboxCapacity"`
	MajorityFraction float64 `toml:"MajorityFraction"`
	MaxNodes         int     `toml:"MaxNodes"`
	MaxDropRate      float64 `toml:"MaxDropRate"`
}

// Workers tunes the event pool sweep.
type Workers struct {
	Workers                int     `toml:"Workers"`
	QueueCapacity          int     `toml:"QueueCapacity"`
	MaxInflight            int     `toml:"MaxInflight"`
	SimulatedLatencyMillis int     `toml:"SimulatedLatencyMillis"`
	FailureRate            float64 `toml:"FailureRate"`
}

// Resource tunes the resource pool contention sweep.
type Resource struct {
	Capacity             int     `toml:"Capacity"`
	Contenders           int     `toml:"Contenders"`
	HoldTimeMillis       int     `toml:"HoldTimeMillis"`
	AcquireTimeoutMillis int     `toml:"AcquireTimeoutMillis"`
	MaxTimeoutRate       float64 `toml:"MaxTimeoutRate"`
}

// Chaos tunes the node-failure sweep.
type Chaos struct {
	FailFraction   float64 `toml:"FailFraction"`
	Rounds         int     `toml:"Rounds"`
	MaxDegradation float64 `toml:"MaxDegradation"`
}

// Analysis sets the scaling-factor budgets for severity tagging.
type Analysis struct {
	AcceptableFactor float64 `toml:"AcceptableFactor"`
	WarningFactor    float64 `toml:"WarningFactor"`
	CriticalFactor   float64 `toml:"CriticalFactor"`
}

// Telemetry configures the optional OTLP exporters.
type Telemetry struct {
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Environment string `toml:"Environment"`
}

// Observability configures logging and the local debug listener.
type Observability struct {
	// DebugListen, when set, serves /metrics and /healthz on that address.
	DebugListen   string `toml:"DebugListen"`
	LogLevel      string `toml:"LogLevel"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
}
