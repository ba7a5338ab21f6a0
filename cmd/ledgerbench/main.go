package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ledgerbench/config"
	"ledgerbench/driver"
	"ledgerbench/observability/logging"
	"ledgerbench/observability/metrics"
	telemetry "ledgerbench/observability/otel"
	"ledgerbench/perf"
)

func main() {
	configFile := flag.String("config", "./ledgerbench.toml", "Path to the configuration file")
	outputFlag := flag.String("output", "", "Override the report output directory")
	scalesFlag := flag.String("scales", "", "Comma-separated scale override, e.g. 100,1000,10000")
	scenarioFlag := flag.String("scenario", "", "Run a single scenario instead of the configured suite")
	formatFlag := flag.String("format", "", "Report format override: json, text, yaml, or all")
	samplesFlag := flag.String("samples", "", "Raw sample annex override: csv, parquet, or none")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LEDGERBENCH_ENV"))
	logger := logging.Setup("ledgerbench", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := applyOverrides(cfg, *outputFlag, *scalesFlag, *scenarioFlag, *formatFlag, *samplesFlag); err != nil {
		logger.Error("invalid flag override", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Observability.LogLevel != "" || cfg.Observability.LogFile != "" {
		logger = logging.SetupWith("ledgerbench", env, logging.Options{
			Level:      logging.ParseLevel(cfg.Observability.LogLevel),
			File:       cfg.Observability.LogFile,
			MaxSizeMB:  cfg.Observability.LogMaxSizeMB,
			MaxBackups: cfg.Observability.LogMaxBackups,
		})
	}

	// Mint the run ID once so telemetry and report artifacts correlate.
	environment := perf.CaptureEnvironment()

	telemetryEnv := strings.TrimSpace(cfg.Telemetry.Environment)
	if telemetryEnv == "" {
		telemetryEnv = env
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerbench",
		Environment: telemetryEnv,
		RunID:       environment.RunID,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()
	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		attrs := []any{
			slog.String("endpoint", cfg.Telemetry.Endpoint),
			slog.Bool("metrics", cfg.Telemetry.Metrics),
			slog.Bool("traces", cfg.Telemetry.Traces),
		}
		// Exporter headers routinely carry auth tokens; mask them on the way out.
		for key, value := range telemetry.ParseHeaders(cfg.Telemetry.Headers) {
			attrs = append(attrs, logging.MaskField(key, value))
		}
		logger.Info("telemetry exporter configured", attrs...)
	}

	if addr := strings.TrimSpace(cfg.Observability.DebugListen); addr != "" {
		server := startDebugListener(addr, cfg.Telemetry.Traces, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	analyzer := perf.NewAnalyzer(perf.Thresholds{
		Acceptable: cfg.Analysis.AcceptableFactor,
		Warning:    cfg.Analysis.WarningFactor,
		Critical:   cfg.Analysis.CriticalFactor,
	})
	runner, err := driver.NewRunner(benchOptions(cfg), analyzer)
	if err != nil {
		logger.Error("failed to build runner", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting bench suite",
		slog.String("run_id", environment.RunID),
		slog.Any("scales", cfg.Run.Scales),
		slog.Any("scenarios", cfg.Run.Scenarios),
		slog.Int64("seed", cfg.Run.Seed))

	start := time.Now()
	runErr := runner.Run(ctx)
	elapsed := time.Since(start)

	violated := false
	interrupted := false
	if runErr != nil {
		switch {
		case errors.Is(runErr, driver.ErrThresholdViolated):
			violated = true
			logger.Warn("scenario thresholds violated", slog.Any("error", runErr))
		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			interrupted = true
			logger.Warn("bench suite interrupted, reporting partial results", slog.Any("error", runErr))
		default:
			logger.Error("bench suite failed", slog.Any("error", runErr))
			os.Exit(1)
		}
	}

	report := analyzer.GenerateReport()
	report.Environment = environment

	if err := writeArtifacts(cfg, report, analyzer.Samples(), logger); err != nil {
		logger.Error("failed to write artifacts", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("bench suite finished",
		slog.Duration("elapsed", elapsed),
		slog.Int("samples", report.Samples),
		slog.Int("analyses", len(report.Analyses)),
		slog.Int("bottlenecks", len(report.Bottlenecks)),
		slog.Bool("critical", report.HasCritical()))

	if violated || interrupted || (cfg.Run.FailOnCritical && report.HasCritical()) {
		// os.Exit skips the deferred shutdown, so flush telemetry here.
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownTelemetry(flushCtx)
		cancel()
		os.Exit(1)
	}
}

func applyOverrides(cfg *config.Config, output, scales, scenario, format, samples string) error {
	if trimmed := strings.TrimSpace(output); trimmed != "" {
		cfg.Run.OutputDir = trimmed
	}
	if trimmed := strings.TrimSpace(scales); trimmed != "" {
		parsed, err := parseScales(trimmed)
		if err != nil {
			return err
		}
		cfg.Run.Scales = parsed
	}
	if trimmed := strings.ToLower(strings.TrimSpace(scenario)); trimmed != "" {
		cfg.Run.Scenarios = []string{trimmed}
	}
	switch trimmed := strings.ToLower(strings.TrimSpace(format)); trimmed {
	case "":
	case "all":
		cfg.Run.Formats = []string{"json", "text", "yaml"}
	default:
		cfg.Run.Formats = []string{trimmed}
	}
	if trimmed := strings.ToLower(strings.TrimSpace(samples)); trimmed != "" {
		cfg.Run.Samples = trimmed
	}
	return nil
}

func parseScales(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	scales := make([]int, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		value, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid scale %q: %w", trimmed, err)
		}
		scales = append(scales, value)
	}
	if len(scales) == 0 {
		return nil, fmt.Errorf("no scales in %q", raw)
	}
	return scales, nil
}

func benchOptions(cfg *config.Config) driver.Options {
	scenarios := make([]driver.Scenario, 0, len(cfg.Run.Scenarios))
	for _, s := range cfg.Run.Scenarios {
		scenarios = append(scenarios, driver.Scenario(s))
	}
	return driver.Options{
		Scales:    append([]int{}, cfg.Run.Scales...),
		Seed:      cfg.Run.Seed,
		Scenarios: scenarios,
		RateLimit: cfg.Run.RateLimit,
		Validator: driver.ValidatorOptions{
			KeygenThreshold: cfg.Validator.KeygenThreshold,
			ChurnWorkers:    cfg.Validator.ChurnWorkers,
			SlashBps:        cfg.Validator.SlashBps,
			TopN:            cfg.Validator.TopN,
			TopQueries:      cfg.Validator.TopQueries,
		},
		Marketplace: driver.MarketplaceOptions{
			BidsPerOrder:      cfg.Marketplace.BidsPerOrder,
			Contenders:        cfg.Marketplace.Contenders,
			MaxBidFailureRate: cfg.Marketplace.MaxBidFailureRate,
		},
		State: driver.StateOptions{
			ChunkSize:  cfg.State.ChunkSize,
			ArchiveDir: cfg.State.ArchiveDir,
		},
		Netsim: driver.NetsimOptions{
			PartitionRatio:   cfg.Netsim.PartitionRatio,
			Rounds:           cfg.Netsim.Rounds,
			Storms:           cfg.Netsim.Storms,
			InboxCapacity:    cfg.Netsim.InboxCapacity,
			MajorityFraction: cfg.Netsim.MajorityFraction,
			MaxNodes:         cfg.Netsim.MaxNodes,
			MaxDropRate:      cfg.Netsim.MaxDropRate,
		},
		Workers: driver.WorkersOptions{
			Workers:          cfg.Workers.Workers,
			QueueCapacity:    cfg.Workers.QueueCapacity,
			MaxInflight:      cfg.Workers.MaxInflight,
			SimulatedLatency: time.Duration(cfg.Workers.SimulatedLatencyMillis) * time.Millisecond,
			FailureRate:      cfg.Workers.FailureRate,
		},
		Resource: driver.ResourceOptions{
			Capacity:       cfg.Resource.Capacity,
			Contenders:     cfg.Resource.Contenders,
			HoldTime:       time.Duration(cfg.Resource.HoldTimeMillis) * time.Millisecond,
			AcquireTimeout: time.Duration(cfg.Resource.AcquireTimeoutMillis) * time.Millisecond,
			MaxTimeoutRate: cfg.Resource.MaxTimeoutRate,
		},
		Chaos: driver.ChaosOptions{
			FailFraction:   cfg.Chaos.FailFraction,
			Rounds:         cfg.Chaos.Rounds,
			MaxDegradation: cfg.Chaos.MaxDegradation,
		},
	}
}

func writeArtifacts(cfg *config.Config, report *perf.Report, samples []perf.Metric, logger *slog.Logger) error {
	dir := cfg.Run.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, format := range cfg.Run.Formats {
		var path string
		var err error
		switch format {
		case "json":
			path = filepath.Join(dir, "report.json")
			err = report.WriteJSON(path)
		case "yaml":
			path = filepath.Join(dir, "report.yaml")
			err = report.WriteYAML(path)
		case "text":
			path = filepath.Join(dir, "report.txt")
			err = report.WriteText(path)
		default:
			continue
		}
		if err != nil {
			return err
		}
		logger.Info("report written", slog.String("format", format), slog.String("path", path))
	}
	switch cfg.Run.Samples {
	case "csv":
		path := filepath.Join(dir, "samples.csv")
		if err := perf.WriteSamplesCSV(path, samples); err != nil {
			return err
		}
		logger.Info("sample annex written", slog.String("path", path), slog.Int("samples", len(samples)))
	case "parquet":
		path := filepath.Join(dir, "samples.parquet")
		if err := perf.WriteSamplesParquet(path, samples); err != nil {
			return err
		}
		logger.Info("sample annex written", slog.String("path", path), slog.Int("samples", len(samples)))
	}
	return nil
}

func startDebugListener(addr string, traced bool, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	handler := http.Handler(mux)
	if traced {
		handler = otelhttp.NewHandler(mux, "ledgerbench-debug")
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("debug listener started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug listener failed", slog.Any("error", err))
		}
	}()
	return server
}
