package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/cache"
	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	wxtest "weather-pipeline/internal/testutil"
)

// countingRepo records whether any read reached the store
type countingRepo struct {
	repository.WeatherRepository
	reads int
}

func (r *countingRepo) GetObservations(ctx context.Context, f repository.ObservationFilter) ([]*models.Observation, int, error) {
	r.reads++
	return r.WeatherRepository.GetObservations(ctx, f)
}

func (r *countingRepo) GetStatistics(ctx context.Context, f repository.StatisticsFilter) ([]*models.YearlyStat, int, error) {
	r.reads++
	return r.WeatherRepository.GetStatistics(ctx, f)
}

// racingRunRepo appends a row and advances the cache generation right after
// the first observation read, as a pipeline run finishing mid-query would.
type racingRunRepo struct {
	repository.WeatherRepository
	qc   *cache.QueryCache
	done bool
}

func (r *racingRunRepo) GetObservations(ctx context.Context, f repository.ObservationFilter) ([]*models.Observation, int, error) {
	items, total, err := r.WeatherRepository.GetObservations(ctx, f)
	if err != nil || r.done {
		return items, total, err
	}
	r.done = true
	obs := &models.Observation{StationID: "STATION2", Date: "20230102", IngestedAt: time.Now().UTC()}
	if err := r.WeatherRepository.AppendObservations(ctx, []*models.Observation{obs}); err != nil {
		return nil, 0, err
	}
	if _, err := r.qc.Invalidate(ctx); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func seededQueryService(t *testing.T) (*QueryService, *countingRepo) {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestion(nil, 10).IngestReader(ctx, strings.NewReader(sampleFile), "STATION1")
	require.NoError(t, err)
	_, err = f.ingestion(nil, 10).IngestReader(ctx, strings.NewReader("20230101\t10\t5\t1\n"), "STATION2")
	require.NoError(t, err)
	_, err = f.statistics(false).CalculateAllStatistics(ctx)
	require.NoError(t, err)

	repo := &countingRepo{WeatherRepository: f.repo}
	return NewQueryService(repo, nil, QueryConfig{DefaultPerPage: 10, MaxPerPage: 50}, f.logger, f.metrics), repo
}

func TestQueryObservations_Pagination(t *testing.T) {
	svc, _ := seededQueryService(t)
	ctx := context.Background()

	first, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION1", Page: 1, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Total)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 1, first.PerPage)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "20230101", first.Items[0].Date)

	second, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION1", Page: 2, PerPage: 1})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "20230102", second.Items[0].Date)

	beyond, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION1", Page: 5, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, beyond.Total)
	assert.Empty(t, beyond.Items)
}

func TestQueryObservations_DefaultsAndCap(t *testing.T) {
	svc, _ := seededQueryService(t)

	page, err := svc.QueryObservations(context.Background(), ObservationQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.PerPage)
	assert.Equal(t, 3, page.Total)

	page, err = svc.QueryObservations(context.Background(), ObservationQuery{PerPage: 1000})
	require.NoError(t, err)
	assert.Equal(t, 50, page.PerPage)
}

func TestQueryObservations_DateFilter(t *testing.T) {
	svc, _ := seededQueryService(t)

	page, err := svc.QueryObservations(context.Background(), ObservationQuery{Date: "2023-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "STATION1", page.Items[0].StationID)
	assert.Equal(t, "STATION2", page.Items[1].StationID)
}

func TestQueryObservations_InvalidDateRejectedBeforeLookup(t *testing.T) {
	svc, repo := seededQueryService(t)

	for _, date := range []string{"2023-02-31", "2023-13-01", "20230101", "2023-1-01", "yesterday"} {
		_, err := svc.QueryObservations(context.Background(), ObservationQuery{Date: date})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr, date)
		assert.ErrorIs(t, err, models.ErrInvalidDate)
		assert.Equal(t, "date", verr.Field)
	}
	assert.Zero(t, repo.reads)
}

func TestQueryObservations_NotFound(t *testing.T) {
	svc, _ := seededQueryService(t)

	_, err := svc.QueryObservations(context.Background(), ObservationQuery{Date: "1999-01-01"})
	var nf *models.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "observations", nf.Resource)
}

func TestQuery_InvalidPagination(t *testing.T) {
	svc, repo := seededQueryService(t)

	_, err := svc.QueryObservations(context.Background(), ObservationQuery{Page: -1})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "page", verr.Field)

	_, err = svc.QueryStats(context.Background(), StatsQuery{PerPage: -5})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "per_page", verr.Field)
	assert.Zero(t, repo.reads)
}

func TestQueryStats(t *testing.T) {
	svc, repo := seededQueryService(t)
	ctx := context.Background()

	page, err := svc.QueryStats(ctx, StatsQuery{Year: "2023"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "STATION1", page.Items[0].StationID)
	assert.Equal(t, 25.5, *page.Items[0].AvgMaxTemp)
	assert.Equal(t, 15.5, *page.Items[0].AvgMinTemp)
	assert.Equal(t, 0.05, *page.Items[0].TotalPrecipitation)

	page, err = svc.QueryStats(ctx, StatsQuery{StationID: "STATION2", Year: "2023"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = svc.QueryStats(ctx, StatsQuery{Year: "2030"})
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)

	reads := repo.reads
	for _, year := range []string{"23", "20233", "abcd", "２０２３"} {
		_, err = svc.QueryStats(ctx, StatsQuery{Year: year})
		assert.ErrorIs(t, err, models.ErrInvalidYear, year)
	}
	assert.Equal(t, reads, repo.reads)
}

func TestParseQueryDate(t *testing.T) {
	got, err := ParseQueryDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "20240229", got)

	_, err = ParseQueryDate("2023-02-29")
	assert.ErrorIs(t, err, models.ErrInvalidDate)
}

func TestQueryService_ReadThroughCache(t *testing.T) {
	base, repo := seededQueryService(t)
	_, client := wxtest.NewRedis(t)
	qc := cache.New(client, time.Minute, base.logger)
	svc := NewQueryService(repo, qc, base.config, base.logger, base.metrics)
	ctx := context.Background()

	first, err := svc.QueryStats(ctx, StatsQuery{Year: "2023"})
	require.NoError(t, err)
	second, err := svc.QueryStats(ctx, StatsQuery{Year: "2023"})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.reads)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, *first.Items[0].AvgMaxTemp, *second.Items[0].AvgMaxTemp)
	assert.Equal(t, 1.0, testutil.ToFloat64(base.metrics.QueryCacheTotal.WithLabelValues("stats", "hit")))

	_, err = qc.Invalidate(ctx)
	require.NoError(t, err)
	_, err = svc.QueryStats(ctx, StatsQuery{Year: "2023"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.reads)
}

func TestQueryService_PageReadDuringRunIsNotServedAfterIt(t *testing.T) {
	base, repo := seededQueryService(t)
	_, client := wxtest.NewRedis(t)
	qc := cache.New(client, time.Minute, base.logger)
	racing := &racingRunRepo{WeatherRepository: repo, qc: qc}
	svc := NewQueryService(racing, qc, base.config, base.logger, base.metrics)
	ctx := context.Background()

	during, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION2"})
	require.NoError(t, err)
	assert.Equal(t, 1, during.Total)

	after, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION2"})
	require.NoError(t, err)
	require.Equal(t, 2, after.Total)
	assert.Equal(t, 2, repo.reads)

	cached, err := svc.QueryObservations(ctx, ObservationQuery{StationID: "STATION2"})
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Total)
	assert.Equal(t, 2, repo.reads)
}
