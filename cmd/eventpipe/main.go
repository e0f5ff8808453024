// Command eventpipe runs the event-aggregation pipeline end to end: it
// parses flags (optionally layered over a config file / environment via
// viper), builds a pipeline.PipelineConfig, runs the pipeline, and
// prints the resulting pipeline.MetricsSnapshot as a two-part summary.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kestrel-data/eventpipe/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		inputFile      string
		outputFile     string
		workers        int
		queueSize      int
		configFile     string
		debug          bool
		observability  string
		metricsAddr    string
		clickhouseAddr string
		clickhouseDB   string
		clickhouseUser string
		clickhousePass string
	)

	cmd := &cobra.Command{
		Use:           "eventpipe",
		Short:         "Ingest an NDJSON event stream and write per-type aggregates",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := viper.New()
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			v.SetEnvPrefix("EVENTPIPE")
			v.AutomaticEnv()

			bindFlag(v, cmd, "input", "input")
			bindFlag(v, cmd, "output", "output")
			bindFlag(v, cmd, "workers", "workers")
			bindFlag(v, cmd, "queue-size", "queue-size")

			cfg := pipeline.DefaultPipelineConfig(v.GetString("input"))
			if v.IsSet("output") {
				cfg.OutputFile = v.GetString("output")
			}
			if v.IsSet("workers") {
				cfg.ParserThreads = v.GetInt("workers")
			}
			if v.IsSet("queue-size") {
				size := v.GetInt("queue-size")
				cfg.QueueSize = &size
			}

			if cfg.InputFile == "" {
				return fmt.Errorf("input file is required")
			}

			logger, err := pipeline.NewLogger(debug)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()
			cfg.Logger = logger

			emitter, closeEmitter, err := buildEmitter(observability, metricsAddr, clickhouseAddr, clickhouseDB, clickhouseUser, clickhousePass, logger)
			if err != nil {
				return fmt.Errorf("building observability emitter: %w", err)
			}
			defer closeEmitter()
			cfg.Emitter = emitter

			coordinator := pipeline.NewCoordinator(cfg)
			snapshot, status := coordinator.Run()
			printSnapshot(cmd.OutOrStdout(), snapshot)

			if status != 0 {
				return fmt.Errorf("pipeline exited with status %d", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFile, "input", "", "NDJSON input file (required)")
	cmd.Flags().StringVar(&outputFile, "output", "", "Output file (default: aggregate-results.ndjson)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parser worker threads (default: CPU count)")
	cmd.Flags().IntVar(&queueSize, "queue-size", 0, "Max queue size per stage (default: 10000; 0 means unbounded)")
	cmd.Flags().StringVar(&configFile, "config", "", "Optional YAML config file with the same fields")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose, human-readable logging")
	cmd.Flags().StringVar(&observability, "observability", "none", "Metrics backend: none, prometheus, or clickhouse")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":2112", "Listen address for the Prometheus /metrics endpoint")
	cmd.Flags().StringVar(&clickhouseAddr, "clickhouse-addr", "localhost:9000", "ClickHouse native TCP address")
	cmd.Flags().StringVar(&clickhouseDB, "clickhouse-database", "pipeline_metrics", "ClickHouse database name")
	cmd.Flags().StringVar(&clickhouseUser, "clickhouse-username", "default", "ClickHouse username")
	cmd.Flags().StringVar(&clickhousePass, "clickhouse-password", "", "ClickHouse password")

	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, viperKey, flagName string) {
	_ = v.BindPFlag(viperKey, cmd.Flags().Lookup(flagName))
}

// buildEmitter constructs the pipeline.Emitter selected by --observability
// and returns a cleanup func the caller must defer. "none" (the default)
// returns pipeline.NoOpEmitter so observability stays opt-in.
func buildEmitter(backend, metricsAddr, chAddr, chDatabase, chUsername, chPassword string, logger *zap.Logger) (pipeline.Emitter, func(), error) {
	noop := func() {}

	switch backend {
	case "", "none":
		return &pipeline.NoOpEmitter{}, noop, nil

	case "prometheus":
		registry := prometheus.NewRegistry()
		emitter := pipeline.NewPrometheusEmitter(registry)

		server := &http.Server{
			Addr:    metricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", zap.Error(err))
			}
		}()

		return emitter, func() { _ = server.Close() }, nil

	case "clickhouse":
		emitter, err := pipeline.NewClickHouseEmitter(pipeline.ObservabilityConfig{
			Enabled:  true,
			Addr:     chAddr,
			Database: chDatabase,
			Username: chUsername,
			Password: chPassword,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return emitter, func() { _ = emitter.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown --observability backend %q (want none, prometheus, or clickhouse)", backend)
	}
}

func printSnapshot(w io.Writer, snapshot pipeline.MetricsSnapshot) {
	totalProcessing := snapshot.ReaderProcessingMs + snapshot.ParserProcessingMs +
		snapshot.RulesProcessingMs + snapshot.AggregatorProcessingMs + snapshot.WriterProcessingMs
	totalMeasured := totalProcessing + snapshot.QueueOverheadMs

	fmt.Fprintf(w, "\n=== Pipeline Summary ===\n")
	fmt.Fprintf(w, "Processed: %d events\n", snapshot.AggregatedEvents)
	fmt.Fprintf(w, "Invalid: %d events\n", snapshot.InvalidEvents)
	fmt.Fprintf(w, "Filtered: %d events\n", snapshot.FilteredEvents)
	fmt.Fprintf(w, "Duration: %.6f sec\n", snapshot.DurationSec)
	fmt.Fprintf(w, "Throughput: %.2f events/sec\n", snapshot.ThroughputPerSec)

	if totalMeasured <= 0 {
		return
	}

	fmt.Fprintf(w, "\n=== Time Breakdown ===\n")
	fmt.Fprintf(w, "Reader processing: %.2fms (%.2f%%)\n", snapshot.ReaderProcessingMs, pct(snapshot.ReaderProcessingMs, totalMeasured))
	fmt.Fprintf(w, "Parser processing: %.2fms (%.2f%%)\n", snapshot.ParserProcessingMs, pct(snapshot.ParserProcessingMs, totalMeasured))
	fmt.Fprintf(w, "Rules processing: %.2fms (%.2f%%)\n", snapshot.RulesProcessingMs, pct(snapshot.RulesProcessingMs, totalMeasured))
	fmt.Fprintf(w, "Aggregator processing: %.2fms (%.2f%%)\n", snapshot.AggregatorProcessingMs, pct(snapshot.AggregatorProcessingMs, totalMeasured))
	fmt.Fprintf(w, "Writer processing: %.2fms (%.2f%%)\n", snapshot.WriterProcessingMs, pct(snapshot.WriterProcessingMs, totalMeasured))
	fmt.Fprintf(w, "Total processing: %.2fms (%.2f%%)\n", totalProcessing, pct(totalProcessing, totalMeasured))
	fmt.Fprintf(w, "Queue overhead: %.2fms (%.2f%%)\n", snapshot.QueueOverheadMs, pct(snapshot.QueueOverheadMs, totalMeasured))
}

func pct(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part / total * 100
}
