// Package pipeline orchestrates ingest, reconcile and aggregate runs.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Opener returns a fresh storage handle. The runner closes it when the run ends.
type Opener func(ctx context.Context) (*database.DB, error)

// Invalidator drops cached query results after the stores change
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Options selects the stages and their settings
type Options struct {
	DataDir          string
	Ingestion        services.IngestionConfig
	PruneOrphanStats bool

	SkipIngest    bool
	SkipReconcile bool
	SkipAggregate bool
}

// RunReport summarizes one pipeline run. Stage results are nil when skipped.
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	Duration    time.Duration
	Ingestion   *services.IngestionResult
	Reconcile   *services.ReconcileResult
	Aggregation *services.AggregationResult
}

// Succeeded reports whether every executed stage completed for every file
func (r *RunReport) Succeeded() bool {
	return r.Ingestion == nil || r.Ingestion.FilesFailed == 0
}

// Runner executes the pipeline stages in order over a per-run storage handle
type Runner struct {
	open    Opener
	cache   Invalidator
	clock   clockwork.Clock
	opts    Options
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRunner creates a runner. cache may be nil.
func NewRunner(open Opener, cache Invalidator, clock clockwork.Clock, opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		open:    open,
		cache:   cache,
		clock:   clock,
		opts:    opts,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Run performs ingest, reconcile and aggregate (each unless skipped) and
// invalidates the query cache once the store has been opened.
// Reconciliation always precedes aggregation.
func (r *Runner) Run(ctx context.Context) (report *RunReport, err error) {
	report = &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.clock.Now().UTC(),
	}
	ctx = logging.WithRunID(ctx, report.RunID)

	r.logger.Info(ctx, "[PIPELINE_START] Pipeline run started", logging.Fields{
		"data_dir":       r.opts.DataDir,
		"skip_ingest":    r.opts.SkipIngest,
		"skip_reconcile": r.opts.SkipReconcile,
		"skip_aggregate": r.opts.SkipAggregate,
		"prune_orphans":  r.opts.PruneOrphanStats,
	})

	defer func() {
		report.Duration = r.clock.Since(report.StartedAt)
		success := err == nil && report.Succeeded()
		r.metrics.RecordPipelineRun(success, r.clock.Now())

		fields := logging.Fields{
			"duration_ms": report.Duration.Milliseconds(),
			"success":     success,
		}
		if err != nil {
			r.logger.Error(ctx, "[PIPELINE_FAILED] Pipeline run failed", fields, err)
			return
		}
		r.logger.Info(ctx, "[PIPELINE_COMPLETE] Pipeline run completed", fields)
	}()

	db, err := r.open(ctx)
	if err != nil {
		return report, fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	// Any stage may have written, even one that later failed.
	defer r.invalidateCache(ctx)

	repo := repository.NewWeatherRepository(db, r.logger, r.metrics)

	if !r.opts.SkipIngest {
		ingestion := services.NewIngestionService(repo, services.NewParser(r.clock), r.opts.Ingestion, r.logger, r.metrics)
		report.Ingestion, err = ingestion.IngestDirectory(ctx, r.opts.DataDir)
		if err != nil {
			return report, fmt.Errorf("ingest: %w", err)
		}
	}

	if !r.opts.SkipReconcile {
		report.Reconcile, err = services.NewReconciler(repo, r.logger, r.metrics).Reconcile(ctx)
		if err != nil {
			return report, fmt.Errorf("reconcile: %w", err)
		}
	}

	if !r.opts.SkipAggregate {
		stats := services.NewStatisticsService(repo, r.clock, services.StatisticsConfig{
			BatchSize:    services.DefaultBatchSize,
			PruneOrphans: r.opts.PruneOrphanStats,
		}, r.logger, r.metrics)
		report.Aggregation, err = stats.CalculateAllStatistics(ctx)
		if err != nil {
			return report, fmt.Errorf("aggregate: %w", err)
		}
	}

	return report, nil
}

func (r *Runner) invalidateCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if _, err := r.cache.Invalidate(ctx); err != nil {
		r.logger.Warn(ctx, "[PIPELINE_CACHE_WARN] Query cache invalidation failed", logging.Fields{
			"error": err.Error(),
		})
	}
}
