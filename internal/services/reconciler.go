package services

import (
	"context"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Reconciler collapses re-ingested observations to one row per (station, date)
type Reconciler struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// ReconcileResult reports a reconciliation pass
type ReconcileResult struct {
	Deleted  int64
	Duration time.Duration
}

// NewReconciler creates a new reconciler
func NewReconciler(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Reconciler {
	return &Reconciler{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Reconcile keeps the most recently ingested row of every natural key and
// deletes the rest. A second pass with no ingestion in between deletes nothing.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	timer := r.metrics.NewTimer(r.metrics.ReconcileDuration)

	pending, err := r.repo.DuplicateCount(ctx)
	if err != nil {
		return nil, &models.StorageError{Op: "reconcile", Err: err}
	}

	r.logger.Info(ctx, "[RECONCILE_START] Starting reconciliation", logging.Fields{
		"superseded_rows": pending,
		"stage":           "INITIALIZATION",
	})

	deleted, err := r.repo.DeleteSupersededObservations(ctx)
	if err != nil {
		r.logger.Error(ctx, "[RECONCILE_ERROR] Reconciliation failed", logging.Fields{
			"stage": "DELETE",
		}, err)
		return nil, &models.StorageError{Op: "reconcile", Err: err}
	}

	result := &ReconcileResult{
		Deleted:  deleted,
		Duration: timer.ObserveDuration(),
	}
	r.metrics.ReconcileDeletedTotal.Add(float64(deleted))

	r.logger.Info(ctx, "[RECONCILE_COMPLETE] Reconciliation completed", logging.Fields{
		"deleted":     deleted,
		"duration_ms": result.Duration.Milliseconds(),
		"stage":       "COMPLETE",
	})

	return result, nil
}
