package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// WeatherRepository provides data access for observations and yearly stats
type WeatherRepository interface {
	// Observation store
	AppendObservations(ctx context.Context, observations []*models.Observation) error
	DeleteSupersededObservations(ctx context.Context) (int64, error)
	DuplicateCount(ctx context.Context) (int64, error)
	CountObservations(ctx context.Context) (int64, error)
	GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error)

	// Stats store
	AggregateYearly(ctx context.Context) ([]*models.YearlyAggregate, error)
	UpsertStatistics(ctx context.Context, stats []*models.YearlyStat) error
	PruneOrphanStatistics(ctx context.Context) (int64, error)
	GetStatistics(ctx context.Context, filter StatisticsFilter) ([]*models.YearlyStat, int, error)

	HealthCheck(ctx context.Context) error
}

// ObservationFilter defines exact-match filters for querying observations.
// Date is in the stored YYYYMMDD form.
type ObservationFilter struct {
	StationID *string
	Date      *string
	Limit     int
	Offset    int
}

// StatisticsFilter defines exact-match filters for querying yearly stats
type StatisticsFilter struct {
	StationID *string
	Year      *int
	Limit     int
	Offset    int
}

// weatherRepository implements WeatherRepository
type weatherRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherRepository creates a new weather repository
func NewWeatherRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WeatherRepository {
	return &weatherRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertObservation = `
	INSERT INTO observations (
		station_id, obs_date, max_temp, min_temp, precipitation, ingested_at
	)
	VALUES (?, ?, ?, ?, ?, ?)
`

// AppendObservations inserts every candidate as a new physical row in a
// single transaction. Rows sharing a natural key with existing rows are
// kept; DeleteSupersededObservations collapses them later.
func (r *weatherRepository) AppendObservations(ctx context.Context, observations []*models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(observations)))
		r.logger.Debug(ctx, "[REPO_BATCH_APPEND] Batch append completed", logging.Fields{
			"count":       len(observations),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(insertObservation))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		_, err := stmt.ExecContext(ctx,
			obs.StationID,
			obs.Date,
			obs.MaxTemp,
			obs.MinTemp,
			obs.Precipitation,
			obs.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append observation %s/%s: %w", obs.StationID, obs.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(observations)))

	return nil
}

// rankedObservations numbers the rows of each natural key newest first.
// Equal ingested_at values fall back to the highest id.
const rankedObservations = `
	SELECT id, ROW_NUMBER() OVER (
		PARTITION BY station_id, obs_date
		ORDER BY ingested_at DESC, id DESC
	) AS rn
	FROM observations
`

// DeleteSupersededObservations keeps only the newest row per (station_id, obs_date)
func (r *weatherRepository) DeleteSupersededObservations(ctx context.Context) (int64, error) {
	query := `DELETE FROM observations WHERE id IN (
		SELECT id FROM (` + rankedObservations + `) ranked WHERE rn > 1
	)`

	result, err := r.db.ExecContext(ctx, "delete_superseded", query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete superseded observations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	return deleted, nil
}

// DuplicateCount returns how many rows a reconciliation pass would delete
func (r *weatherRepository) DuplicateCount(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM (` + rankedObservations + `) ranked WHERE rn > 1`

	var count int64
	if err := r.db.GetContext(ctx, "count_duplicates", &count, query); err != nil {
		return 0, fmt.Errorf("failed to count duplicate observations: %w", err)
	}
	return count, nil
}

// CountObservations returns the number of physical observation rows
func (r *weatherRepository) CountObservations(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, "count_all_observations", &count, "SELECT COUNT(*) FROM observations"); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

// GetObservations retrieves observations with filtering and pagination
func (r *weatherRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.StationID != nil {
		where = append(where, "station_id = ?")
		args = append(args, *filter.StationID)
	}
	if filter.Date != nil {
		where = append(where, "obs_date = ?")
		args = append(args, *filter.Date)
	}

	query := `
		SELECT id, station_id, obs_date, max_temp, min_temp, precipitation, ingested_at
		FROM observations
	` + whereClause(where)

	countQuery := "SELECT COUNT(*) FROM (" + query + ") count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_observations", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count observations: %w", err)
	}
	if totalCount == 0 {
		return []*models.Observation{}, 0, nil
	}

	query += " ORDER BY obs_date, station_id, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	observations := []*models.Observation{}
	if err := r.db.SelectContext(ctx, "get_observations", &observations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	return observations, totalCount, nil
}

// AggregateYearly groups the observation store by station and year and
// returns exact non-null counts and integer sums per measurement.
func (r *weatherRepository) AggregateYearly(ctx context.Context) ([]*models.YearlyAggregate, error) {
	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_AGGREGATE] Yearly aggregation query completed", logging.Fields{
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	query := `
		SELECT
			station_id,
			SUBSTR(obs_date, 1, 4)              AS year,
			COUNT(*)                            AS observation_count,
			COUNT(max_temp)                     AS max_temp_count,
			COALESCE(SUM(max_temp), 0)          AS max_temp_sum,
			COUNT(min_temp)                     AS min_temp_count,
			COALESCE(SUM(min_temp), 0)          AS min_temp_sum,
			COUNT(precipitation)                AS precipitation_count,
			COALESCE(SUM(precipitation), 0)     AS precipitation_sum
		FROM observations
		GROUP BY station_id, SUBSTR(obs_date, 1, 4)
		ORDER BY station_id, year
	`

	aggregates := []*models.YearlyAggregate{}
	if err := r.db.SelectContext(ctx, "aggregate_yearly", &aggregates, query); err != nil {
		return nil, fmt.Errorf("failed to aggregate observations: %w", err)
	}
	return aggregates, nil
}

const upsertStatistics = `
	INSERT INTO yearly_stats (
		station_id, year,
		avg_max_temp, avg_min_temp, total_precipitation,
		observation_count, valid_max_temp_count, valid_min_temp_count, valid_precipitation_count,
		updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (station_id, year) DO UPDATE SET
		avg_max_temp = excluded.avg_max_temp,
		avg_min_temp = excluded.avg_min_temp,
		total_precipitation = excluded.total_precipitation,
		observation_count = excluded.observation_count,
		valid_max_temp_count = excluded.valid_max_temp_count,
		valid_min_temp_count = excluded.valid_min_temp_count,
		valid_precipitation_count = excluded.valid_precipitation_count,
		updated_at = excluded.updated_at
`

// UpsertStatistics writes a batch of yearly stats in one transaction,
// overwriting any existing row with the same (station_id, year).
func (r *weatherRepository) UpsertStatistics(ctx context.Context, stats []*models.YearlyStat) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(upsertStatistics))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		_, err := stmt.ExecContext(ctx,
			s.StationID,
			s.Year,
			s.AvgMaxTemp,
			s.AvgMinTemp,
			s.TotalPrecipitation,
			s.ObservationCount,
			s.ValidMaxTempCount,
			s.ValidMinTempCount,
			s.ValidPrecipitationCount,
			s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert statistics %s/%d: %w", s.StationID, s.Year, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.StatsGroupsUpsertedTotal.Add(float64(len(stats)))
	return nil
}

// PruneOrphanStatistics deletes stats rows whose station-year has no
// observation left in the store.
func (r *weatherRepository) PruneOrphanStatistics(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM yearly_stats
		WHERE NOT EXISTS (
			SELECT 1 FROM observations o
			WHERE o.station_id = yearly_stats.station_id
			  AND SUBSTR(o.obs_date, 1, 4) = CAST(yearly_stats.year AS TEXT)
		)
	`

	result, err := r.db.ExecContext(ctx, "prune_orphan_stats", query)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan statistics: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}

	r.metrics.StatsPrunedTotal.Add(float64(pruned))
	return pruned, nil
}

// GetStatistics retrieves yearly stats with filtering and pagination
func (r *weatherRepository) GetStatistics(ctx context.Context, filter StatisticsFilter) ([]*models.YearlyStat, int, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.StationID != nil {
		where = append(where, "station_id = ?")
		args = append(args, *filter.StationID)
	}
	if filter.Year != nil {
		where = append(where, "year = ?")
		args = append(args, *filter.Year)
	}

	query := `
		SELECT id, station_id, year,
		       avg_max_temp, avg_min_temp, total_precipitation,
		       observation_count, valid_max_temp_count, valid_min_temp_count, valid_precipitation_count,
		       updated_at
		FROM yearly_stats
	` + whereClause(where)

	countQuery := "SELECT COUNT(*) FROM (" + query + ") count_query"
	var totalCount int
	if err := r.db.GetContext(ctx, "count_statistics", &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count statistics: %w", err)
	}
	if totalCount == 0 {
		return []*models.YearlyStat{}, 0, nil
	}

	query += " ORDER BY year, station_id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	statistics := []*models.YearlyStat{}
	if err := r.db.SelectContext(ctx, "get_statistics", &statistics, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get statistics: %w", err)
	}

	return statistics, totalCount, nil
}

// HealthCheck performs a repository health check
func (r *weatherRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
