package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// QueryDateLayout is the date format accepted by observation queries
const QueryDateLayout = "2006-01-02"

const (
	datasetObservations = "observations"
	datasetStats        = "stats"
)

// ResultCache stores serialized query pages keyed by a generation that
// advances whenever the underlying data changes.
type ResultCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, dataset, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, gen int64, dataset, key string, value interface{}) error
}

// QueryConfig holds pagination limits
type QueryConfig struct {
	DefaultPerPage int
	MaxPerPage     int
}

// Page is the pagination envelope returned by both queries
type Page[T any] struct {
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Items   []T `json:"items"`
}

// ObservationQuery filters observations. Empty strings mean "no filter";
// zero Page/PerPage take the defaults.
type ObservationQuery struct {
	Date      string
	StationID string
	Page      int
	PerPage   int
}

// StatsQuery filters yearly stats
type StatsQuery struct {
	Year      string
	StationID string
	Page      int
	PerPage   int
}

// QueryService serves filtered, paginated reads over both stores
type QueryService struct {
	repo    repository.WeatherRepository
	cache   ResultCache
	config  QueryConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewQueryService creates a new query service. cache may be nil.
func NewQueryService(repo repository.WeatherRepository, cache ResultCache, cfg QueryConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *QueryService {
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = 10
	}
	if cfg.MaxPerPage < cfg.DefaultPerPage {
		cfg.MaxPerPage = cfg.DefaultPerPage
	}
	return &QueryService{
		repo:    repo,
		cache:   cache,
		config:  cfg,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// QueryObservations validates the filters, then returns one page of
// observations ordered by date, station and row id.
func (s *QueryService) QueryObservations(ctx context.Context, q ObservationQuery) (*Page[*models.Observation], error) {
	page, perPage, err := s.pagination(q.Page, q.PerPage)
	if err != nil {
		return nil, err
	}

	filter := repository.ObservationFilter{Limit: perPage, Offset: (page - 1) * perPage}
	if q.Date != "" {
		date, err := ParseQueryDate(q.Date)
		if err != nil {
			return nil, err
		}
		filter.Date = &date
	}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}

	key := fmt.Sprintf("date=%s|station=%s|page=%d|per_page=%d", q.Date, q.StationID, page, perPage)
	result := &Page[*models.Observation]{}
	gen, cacheable, hit := s.lookup(ctx, datasetObservations, key, result)
	if hit {
		return result, nil
	}

	items, total, err := s.repo.GetObservations(ctx, filter)
	if err != nil {
		return nil, &models.StorageError{Op: "query_observations", Err: err}
	}
	if total == 0 {
		return nil, &models.NotFoundError{Resource: "observations", ID: describe(q.StationID, q.Date)}
	}

	if items == nil {
		items = []*models.Observation{}
	}
	result = &Page[*models.Observation]{Total: total, Page: page, PerPage: perPage, Items: items}
	if cacheable {
		s.store(ctx, gen, datasetObservations, key, result)
	}
	return result, nil
}

// QueryStats validates the filters, then returns one page of yearly stats
// ordered by year and station.
func (s *QueryService) QueryStats(ctx context.Context, q StatsQuery) (*Page[*models.YearlyStat], error) {
	page, perPage, err := s.pagination(q.Page, q.PerPage)
	if err != nil {
		return nil, err
	}

	filter := repository.StatisticsFilter{Limit: perPage, Offset: (page - 1) * perPage}
	if q.Year != "" {
		year, err := ParseQueryYear(q.Year)
		if err != nil {
			return nil, err
		}
		filter.Year = &year
	}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}

	key := fmt.Sprintf("year=%s|station=%s|page=%d|per_page=%d", q.Year, q.StationID, page, perPage)
	result := &Page[*models.YearlyStat]{}
	gen, cacheable, hit := s.lookup(ctx, datasetStats, key, result)
	if hit {
		return result, nil
	}

	items, total, err := s.repo.GetStatistics(ctx, filter)
	if err != nil {
		return nil, &models.StorageError{Op: "query_stats", Err: err}
	}
	if total == 0 {
		return nil, &models.NotFoundError{Resource: "statistics", ID: describe(q.StationID, q.Year)}
	}

	if items == nil {
		items = []*models.YearlyStat{}
	}
	result = &Page[*models.YearlyStat]{Total: total, Page: page, PerPage: perPage, Items: items}
	if cacheable {
		s.store(ctx, gen, datasetStats, key, result)
	}
	return result, nil
}

// HealthCheck reports whether the store is reachable
func (s *QueryService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}

func (s *QueryService) pagination(page, perPage int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if perPage == 0 {
		perPage = s.config.DefaultPerPage
	}
	if page < 1 {
		return 0, 0, &models.ValidationError{Field: "page", Value: strconv.Itoa(page), Message: "page must be a positive integer"}
	}
	if perPage < 1 {
		return 0, 0, &models.ValidationError{Field: "per_page", Value: strconv.Itoa(perPage), Message: "per_page must be a positive integer"}
	}
	if perPage > s.config.MaxPerPage {
		perPage = s.config.MaxPerPage
	}
	return page, perPage, nil
}

// ParseQueryDate checks a YYYY-MM-DD calendar date and returns the stored
// YYYYMMDD form.
func ParseQueryDate(value string) (string, error) {
	t, err := time.Parse(QueryDateLayout, value)
	if err != nil || len(value) != len(QueryDateLayout) {
		return "", &models.ValidationError{
			Field:   "date",
			Value:   value,
			Message: "Invalid date format. Use YYYY-MM-DD.",
			Err:     models.ErrInvalidDate,
		}
	}
	return t.Format(models.DateLayout), nil
}

// ParseQueryYear checks for exactly four ASCII digits
func ParseQueryYear(value string) (int, error) {
	if !models.IsYear(value) {
		return 0, &models.ValidationError{
			Field:   "year",
			Value:   value,
			Message: "Invalid year format. Use YYYY.",
			Err:     models.ErrInvalidYear,
		}
	}
	year, _ := strconv.Atoi(value)
	return year, nil
}

// lookup resolves the cache generation once per query and reads the page
// under it. The same generation must be passed to store.
func (s *QueryService) lookup(ctx context.Context, dataset, key string, dest interface{}) (gen int64, cacheable, hit bool) {
	if s.cache == nil {
		return 0, false, false
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.cacheError(ctx, dataset, "Cache lookup failed, reading store", err)
		return 0, false, false
	}

	found, err := s.cache.Get(ctx, gen, dataset, key, dest)
	switch {
	case err != nil:
		s.cacheError(ctx, dataset, "Cache lookup failed, reading store", err)
		return gen, true, false
	case found:
		s.metrics.RecordCacheLookup(dataset, "hit")
		return gen, true, true
	default:
		s.metrics.RecordCacheLookup(dataset, "miss")
		return gen, true, false
	}
}

func (s *QueryService) store(ctx context.Context, gen int64, dataset, key string, value interface{}) {
	if err := s.cache.Set(ctx, gen, dataset, key, value); err != nil {
		s.logger.Warn(ctx, "[QUERY_CACHE_ERROR] Cache store failed", logging.Fields{
			"dataset": dataset,
			"error":   err.Error(),
		})
	}
}

func (s *QueryService) cacheError(ctx context.Context, dataset, msg string, err error) {
	s.metrics.RecordCacheLookup(dataset, "error")
	s.logger.Warn(ctx, "[QUERY_CACHE_ERROR] "+msg, logging.Fields{
		"dataset": dataset,
		"error":   err.Error(),
	})
}

func describe(stationID, value string) string {
	switch {
	case stationID != "" && value != "":
		return stationID + "@" + value
	case stationID != "":
		return stationID
	default:
		return value
	}
}
