package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// StatisticsConfig controls the aggregation pass
type StatisticsConfig struct {
	BatchSize    int
	PruneOrphans bool
}

// StatisticsService recomputes yearly station statistics
type StatisticsService struct {
	repo    repository.WeatherRepository
	clock   clockwork.Clock
	config  StatisticsConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// AggregationResult reports an aggregation pass
type AggregationResult struct {
	Groups   int
	Upserted int
	Invalid  int
	Pruned   int64
	Duration time.Duration
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.WeatherRepository, clock clockwork.Clock, cfg StatisticsConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &StatisticsService{
		repo:    repo,
		clock:   clock,
		config:  cfg,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CalculateAllStatistics recomputes every (station, year) group present in
// the observation store and upserts it. Run it after reconciliation so that
// superseded rows cannot inflate a group.
func (s *StatisticsService) CalculateAllStatistics(ctx context.Context) (*AggregationResult, error) {
	timer := s.metrics.NewTimer(s.metrics.StatsCalculationDuration)

	s.logger.Info(ctx, "[STATS_CALC_START] Starting statistics calculation", logging.Fields{
		"batch_size":    s.config.BatchSize,
		"prune_orphans": s.config.PruneOrphans,
		"stage":         "INITIALIZATION",
	})

	aggregates, err := s.repo.AggregateYearly(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "aggregate", Err: err}
	}

	result := &AggregationResult{Groups: len(aggregates)}
	updatedAt := s.clock.Now().UTC().Truncate(time.Microsecond)

	batch := make([]*models.YearlyStat, 0, s.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.repo.UpsertStatistics(ctx, batch); err != nil {
			s.logger.Error(ctx, "[STATS_SAVE_ERROR] Failed to save statistics batch", logging.Fields{
				"batch_size": len(batch),
				"upserted":   result.Upserted,
			}, err)
			return &models.StorageError{Op: "upsert_stats", Committed: result.Upserted, Err: err}
		}
		result.Upserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, agg := range aggregates {
		stat, err := agg.ToYearlyStat(updatedAt)
		if err != nil {
			result.Invalid++
			s.logger.Warn(ctx, "[STATS_GROUP_INVALID] Skipping group with unusable year", logging.Fields{
				"station_id": agg.StationID,
				"year":       agg.Year,
			})
			continue
		}

		batch = append(batch, stat)
		if len(batch) >= s.config.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if s.config.PruneOrphans {
		pruned, err := s.repo.PruneOrphanStatistics(ctx)
		if err != nil {
			return result, &models.StorageError{Op: "prune_stats", Committed: result.Upserted, Err: err}
		}
		result.Pruned = pruned
	}

	result.Duration = timer.ObserveDuration()

	s.logger.Info(ctx, "[STATS_CALC_COMPLETE] Statistics calculation completed", logging.Fields{
		"groups":           result.Groups,
		"upserted":         result.Upserted,
		"invalid":          result.Invalid,
		"pruned":           result.Pruned,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}
