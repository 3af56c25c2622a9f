package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
)

var benchFlags struct {
	file       string
	rules      string
	iterations int
	strategy   string
	format     string
	progress   bool
}

var benchCmd = &cobra.Command{
	Use:   "bench [content]",
	Short: "Measure evaluation throughput and latency",
	Long: `Run the engine over a corpus and report throughput and latency.

Each non-blank line of --file is one item; a single argument is one item.
The corpus is evaluated --iterations times through the batch evaluator.
Adaptation and audit are disabled so the run leaves no state behind.

Examples:
  # Benchmark a corpus file
  rulegate bench --file corpus.txt --iterations 100

  # Benchmark one string with a progress bar
  rulegate bench "here is my draft" --iterations 1000 --progress`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVarP(&benchFlags.file, "file", "f", "", `corpus file, one item per line ("-" for stdin)`)
	benchCmd.Flags().StringVarP(&benchFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")
	benchCmd.Flags().IntVarP(&benchFlags.iterations, "iterations", "n", 10, "passes over the corpus")
	benchCmd.Flags().StringVar(&benchFlags.strategy, "strategy", "", "conflict resolution strategy (default: engine default)")
	benchCmd.Flags().StringVar(&benchFlags.format, "format", "text", "output format: text, json")
	benchCmd.Flags().BoolVar(&benchFlags.progress, "progress", false, "show a progress bar on stderr")
}

// BenchReport summarizes a benchmark run.
type BenchReport struct {
	Items      int           `json:"items"`
	Blocked    int           `json:"blocked"`
	Errors     int           `json:"errors"`
	Duration   time.Duration `json:"duration_ns"`
	Throughput float64       `json:"throughput_per_sec"`
	Latency    LatencyStats  `json:"latency"`
}

// LatencyStats holds per-item evaluation latency percentiles.
type LatencyStats struct {
	Min    time.Duration `json:"min_ns"`
	Mean   time.Duration `json:"mean_ns"`
	Median time.Duration `json:"median_ns"`
	P95    time.Duration `json:"p95_ns"`
	P99    time.Duration `json:"p99_ns"`
	Max    time.Duration `json:"max_ns"`
}

func runBench(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(benchFlags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}
	if benchFlags.iterations < 1 {
		return cli.NewUsageError("--iterations must be at least 1")
	}
	corpus, err := readCorpus(cmd, args, benchFlags.file)
	if err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	var strategy engine.Strategy
	if benchFlags.strategy != "" {
		if strategy, err = engine.ParseStrategy(benchFlags.strategy); err != nil {
			return cli.NewUsageError(err.Error())
		}
	}
	benchCfg := *cfg
	benchCfg.Adaptation.Enabled = false
	benchCfg.Audit.Enabled = false

	ctx := commandContext(cmd)
	st, err := newStack(ctx, &benchCfg, benchFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("bench", err)
	}
	defer st.Close(ctx)
	defer flushMetrics(st.metrics, logger)

	items := make([]engine.Item, len(corpus))
	for i, content := range corpus {
		items[i] = engine.Item{Content: content, Strategy: strategy}
	}

	var progress *cli.SimpleProgress
	if benchFlags.progress {
		progress = cli.NewProgressReporter(cmd.ErrOrStderr(), "passes")
		progress.Start(int64(benchFlags.iterations))
	}

	results := make([]engine.BatchResult, 0, len(items)*benchFlags.iterations)
	start := time.Now()
	for i := 0; i < benchFlags.iterations; i++ {
		if err := ctx.Err(); err != nil {
			return cli.NewCommandError("bench", err)
		}
		results = append(results, st.engine.EvaluateBatch(ctx, items)...)
		if progress != nil {
			progress.Increment()
		}
	}
	elapsed := time.Since(start)
	if progress != nil {
		progress.Finish()
	}

	report := summarizeBench(results, elapsed)
	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		return cli.NewFormatter(cli.FormatJSON).FormatTo(out, report)
	}
	printBenchText(out, report)
	return nil
}

func readCorpus(cmd *cobra.Command, args []string, file string) ([]string, error) {
	if len(args) == 1 || file == "" {
		content, err := readContent(cmd, args, file)
		if err != nil {
			return nil, err
		}
		return []string{content}, nil
	}
	var r io.Reader
	if file == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("failed to open corpus file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var corpus []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			corpus = append(corpus, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	if len(corpus) == 0 {
		return nil, cli.NewUsageError("corpus is empty")
	}
	return corpus, nil
}

func summarizeBench(results []engine.BatchResult, elapsed time.Duration) BenchReport {
	report := BenchReport{Items: len(results), Duration: elapsed}
	latencies := make([]time.Duration, 0, len(results))
	for _, br := range results {
		if br.Err != nil {
			report.Errors++
		}
		if !br.Result.Valid {
			report.Blocked++
		}
		latencies = append(latencies, br.Result.ProcessingTime)
	}
	if elapsed > 0 {
		report.Throughput = float64(len(results)) / elapsed.Seconds()
	}
	report.Latency = latencyStats(latencies)
	return report
}

func latencyStats(latencies []time.Duration) LatencyStats {
	if len(latencies) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	rank := func(p float64) time.Duration {
		return sorted[int(float64(len(sorted)-1)*p)]
	}
	return LatencyStats{
		Min:    sorted[0],
		Mean:   sum / time.Duration(len(sorted)),
		Median: rank(0.5),
		P95:    rank(0.95),
		P99:    rank(0.99),
		Max:    sorted[len(sorted)-1],
	}
}

func printBenchText(w io.Writer, r BenchReport) {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

	fmt.Fprintln(w, "Results:")
	fmt.Fprintln(w, "--------")
	fmt.Fprintf(w, "Items:       %d total, %d blocked, %d errors\n", r.Items, r.Blocked, r.Errors)
	fmt.Fprintf(w, "Duration:    %.3fs\n", r.Duration.Seconds())
	fmt.Fprintf(w, "Throughput:  %.2f items/s\n", r.Throughput)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Latency:")
	fmt.Fprintf(w, "  Min:     %.3fms\n", ms(r.Latency.Min))
	fmt.Fprintf(w, "  Mean:    %.3fms\n", ms(r.Latency.Mean))
	fmt.Fprintf(w, "  Median:  %.3fms\n", ms(r.Latency.Median))
	fmt.Fprintf(w, "  p95:     %.3fms\n", ms(r.Latency.P95))
	fmt.Fprintf(w, "  p99:     %.3fms\n", ms(r.Latency.P99))
	fmt.Fprintf(w, "  Max:     %.3fms\n", ms(r.Latency.Max))
}
