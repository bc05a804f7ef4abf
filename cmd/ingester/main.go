package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"weather-pipeline/internal/app"
	"weather-pipeline/internal/models"
	"weather-pipeline/internal/pipeline"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
)

// maxPrintedErrors bounds the per-file error list in the summary
const maxPrintedErrors = 10

type flags struct {
	configPath    string
	dataDir       string
	batchSize     int
	pattern       string
	skipReconcile bool
	skipStats     bool
	pruneStats    bool
	cronSpec      string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ingester: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "ingester",
		Short:         "Load station files, reconcile duplicates and compute yearly statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to a YAML config file")

	pipelineFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "directory of station files (overrides ingestion.data_dir)")
		cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "rows per write transaction (overrides ingestion.batch_size)")
		cmd.Flags().StringVar(&f.pattern, "pattern", "", "station file glob (overrides ingestion.file_pattern)")
		cmd.Flags().BoolVar(&f.skipReconcile, "skip-reconcile", false, "skip duplicate reconciliation")
		cmd.Flags().BoolVar(&f.skipStats, "skip-stats", false, "skip yearly statistics")
		cmd.Flags().BoolVar(&f.pruneStats, "prune-stats", false, "delete statistics whose station-year has no observations")
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run ingest, reconcile and aggregate once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, f, "weather-ingester", func(opts *pipeline.Options) {
				opts.SkipReconcile = f.skipReconcile
				opts.SkipAggregate = f.skipStats
			})
		},
	}
	pipelineFlags(run)

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Collapse duplicate observations to the most recently ingested row",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, f, "weather-reconciler", func(opts *pipeline.Options) {
				opts.SkipIngest = true
				opts.SkipAggregate = true
			})
		},
	}

	aggregate := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute yearly statistics from the observation store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, f, "weather-aggregator", func(opts *pipeline.Options) {
				opts.SkipIngest = true
				opts.SkipReconcile = true
			})
		},
	}
	aggregate.Flags().BoolVar(&f.pruneStats, "prune-stats", false, "delete statistics whose station-year has no observations")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Parse station files and report line counts without touching the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, f)
		},
	}
	inspect.Flags().StringVar(&f.dataDir, "data-dir", "", "directory of station files (overrides ingestion.data_dir)")
	inspect.Flags().StringVar(&f.pattern, "pattern", "", "station file glob (overrides ingestion.file_pattern)")

	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, f)
		},
	}
	pipelineFlags(schedule)
	schedule.Flags().StringVar(&f.cronSpec, "cron", "", "cron spec or descriptor (overrides pipeline.schedule)")

	root.AddCommand(run, reconcile, aggregate, inspect, schedule)
	return root
}

// load applies command-line overrides on top of the file and environment config
func load(f *flags, service string) (*app.App, error) {
	a, err := app.Load(f.configPath, service)
	if err != nil {
		return nil, err
	}
	cfg := a.Config
	if f.dataDir != "" {
		cfg.Ingestion.DataDir = f.dataDir
	}
	if f.batchSize > 0 {
		cfg.Ingestion.BatchSize = f.batchSize
	}
	if f.pattern != "" {
		cfg.Ingestion.FilePattern = f.pattern
	}
	if f.pruneStats {
		cfg.Pipeline.PruneOrphanStats = true
	}
	if f.cronSpec != "" {
		cfg.Pipeline.Schedule = f.cronSpec
	}
	return a, cfg.Validate()
}

func runPipeline(cmd *cobra.Command, f *flags, service string, stages func(*pipeline.Options)) error {
	a, err := load(f, service)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	qc, err := a.DialCache(ctx)
	if err != nil {
		a.Logger.Warn(ctx, "[INGESTER_START] Query cache unavailable, skipping invalidation", logging.Fields{"error": err.Error()})
	} else if qc != nil {
		defer qc.Close()
	}

	opts := a.PipelineOptions()
	stages(&opts)

	report, err := a.NewRunner(opts, qc).Run(ctx)
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return err
	}
	if !report.Succeeded() {
		return fmt.Errorf("%d of %d files failed", report.Ingestion.FilesFailed, report.Ingestion.TotalFiles)
	}
	return nil
}

func runSchedule(cmd *cobra.Command, f *flags) error {
	a, err := load(f, "weather-scheduler")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	qc, err := a.DialCache(ctx)
	if err != nil {
		a.Logger.Warn(ctx, "[SCHEDULER] Query cache unavailable, skipping invalidation", logging.Fields{"error": err.Error()})
	} else if qc != nil {
		defer qc.Close()
	}

	opts := a.PipelineOptions()
	opts.SkipReconcile = f.skipReconcile
	opts.SkipAggregate = f.skipStats

	scheduler, err := pipeline.NewScheduler(a.Config.Pipeline.Schedule, a.NewRunner(opts, qc), a.Logger)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	<-ctx.Done()
	scheduler.Stop()
	return nil
}

func runInspect(cmd *cobra.Command, f *flags) error {
	a, err := load(f, "weather-inspector")
	if err != nil {
		return err
	}
	files, err := services.DiscoverFiles(a.Config.Ingestion.DataDir, a.Config.Ingestion.FilePattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w in %s", services.ErrNoDataFiles, a.Config.Ingestion.DataDir)
	}

	parser := services.NewParser(nil)
	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATION\tLINES\tVALID\tSKIPPED\tREASONS")

	var lines, valid, skipped int
	for _, path := range files {
		res, err := services.InspectFile(parser, path)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t%v\n", services.StationIDFromPath(path), err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", res.StationID, res.Lines, res.Valid, res.Skipped, formatReasons(res.SkippedByReason))
		lines += res.Lines
		valid += res.Valid
		skipped += res.Skipped
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t\n", lines, valid, skipped)
	return tw.Flush()
}

func formatReasons(reasons map[string]int) string {
	if len(reasons) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(reasons))
	for _, reason := range models.SkipReasons() {
		if n := reasons[reason]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	return strings.Join(parts, ",")
}

func printReport(w io.Writer, report *pipeline.RunReport) {
	if report == nil {
		return
	}
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "PIPELINE RUN %s\n", report.RunID)
	fmt.Fprintln(w, rule)

	if res := report.Ingestion; res != nil {
		fmt.Fprintf(w, "Files:              %d (%d failed)\n", res.TotalFiles, res.FilesFailed)
		fmt.Fprintf(w, "Lines:              %d\n", res.TotalLines)
		fmt.Fprintf(w, "Appended:           %d\n", res.Appended)
		fmt.Fprintf(w, "Skipped:            %d %s\n", res.Skipped, formatReasons(res.SkippedByReason))
		if secs := res.Duration.Seconds(); secs > 0 {
			fmt.Fprintf(w, "Rows/Second:        %.2f\n", float64(res.Appended)/secs)
		}
		if len(res.Errors) > 0 {
			fmt.Fprintf(w, "\nErrors (%d):\n", len(res.Errors))
			for i, msg := range res.Errors {
				if i == maxPrintedErrors {
					fmt.Fprintf(w, "  ... and %d more errors\n", len(res.Errors)-maxPrintedErrors)
					break
				}
				fmt.Fprintf(w, "  - %s\n", msg)
			}
		}
	}
	if res := report.Reconcile; res != nil {
		fmt.Fprintf(w, "Duplicates removed: %d\n", res.Deleted)
	}
	if res := report.Aggregation; res != nil {
		fmt.Fprintf(w, "Stats upserted:     %d of %d groups\n", res.Upserted, res.Groups)
		if res.Pruned > 0 {
			fmt.Fprintf(w, "Stats pruned:       %d\n", res.Pruned)
		}
	}
	fmt.Fprintf(w, "Duration:           %v\n", report.Duration)
}
