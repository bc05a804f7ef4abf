package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/testutil"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

var (
	firstRun  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	secondRun = firstRun.Add(time.Hour)
)

func newRepo(t *testing.T) WeatherRepository {
	t.Helper()
	return NewWeatherRepository(testutil.NewSQLiteDB(t), logging.NewNopLogger(), metrics.NewTestCollector())
}

func obs(station, date string, maxT, minT, precip *int, at time.Time) *models.Observation {
	return &models.Observation{
		StationID:     station,
		Date:          date,
		MaxTemp:       maxT,
		MinTemp:       minT,
		Precipitation: precip,
		IngestedAt:    at,
	}
}

var ip = testutil.IntPtr

func TestAppendObservations_KeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	batch := []*models.Observation{
		obs("STATION1", "20230101", ip(250), ip(150), ip(0), firstRun),
		obs("STATION1", "20230102", ip(260), ip(160), ip(5), firstRun),
	}
	require.NoError(t, repo.AppendObservations(ctx, batch))
	require.NoError(t, repo.AppendObservations(ctx, batch))
	require.NoError(t, repo.AppendObservations(ctx, nil))

	count, err := repo.CountObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, count)

	dups, err := repo.DuplicateCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, dups)
}

func TestDeleteSupersededObservations(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("STATION1", "20230101", ip(100), nil, nil, secondRun),
		obs("STATION1", "20230102", ip(260), ip(160), ip(5), firstRun),
	}))
	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("STATION1", "20230101", ip(250), ip(150), ip(0), firstRun),
	}))

	deleted, err := repo.DeleteSupersededObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	// The newest ingested_at wins even though it was inserted first.
	date := "20230101"
	rows, total, err := repo.GetObservations(ctx, ObservationFilter{Date: &date, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, 100, *rows[0].MaxTemp)
	assert.Nil(t, rows[0].MinTemp)
	assert.True(t, rows[0].IngestedAt.Equal(secondRun))

	// Second pass is a no-op.
	deleted, err = repo.DeleteSupersededObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, deleted)
}

func TestDeleteSupersededObservations_TieKeepsLatestInsert(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("S", "20230101", ip(1), nil, nil, firstRun),
		obs("S", "20230101", ip(2), nil, nil, firstRun),
		obs("S", "20230101", ip(3), nil, nil, firstRun),
	}))

	deleted, err := repo.DeleteSupersededObservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	rows, _, err := repo.GetObservations(ctx, ObservationFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, *rows[0].MaxTemp)
}

func TestGetObservations_FiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("B", "20230101", ip(1), nil, nil, firstRun),
		obs("A", "20230101", ip(2), nil, nil, firstRun),
		obs("A", "20230102", ip(3), nil, nil, firstRun),
	}))

	rows, total, err := repo.GetObservations(ctx, ObservationFilter{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0].StationID)
	assert.Equal(t, "B", rows[1].StationID)

	rows, total, err = repo.GetObservations(ctx, ObservationFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "20230102", rows[0].Date)

	station, date := "A", "20230101"
	rows, total, err = repo.GetObservations(ctx, ObservationFilter{StationID: &station, Date: &date, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 2, *rows[0].MaxTemp)

	missing := "ZZZ"
	rows, total, err = repo.GetObservations(ctx, ObservationFilter{StationID: &missing, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, rows)
}

func TestAggregateYearly(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("S", "20230101", ip(250), ip(150), nil, firstRun),
		obs("S", "20230102", ip(270), ip(160), nil, firstRun),
		obs("S", "20240101", nil, ip(-10), ip(7), firstRun),
		obs("T", "20230101", ip(5), ip(5), ip(5), firstRun),
	}))

	aggs, err := repo.AggregateYearly(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 3)

	s2023 := aggs[0]
	assert.Equal(t, "S", s2023.StationID)
	assert.Equal(t, "2023", s2023.Year)
	assert.EqualValues(t, 2, s2023.ObservationCount)
	assert.EqualValues(t, 520, s2023.MaxTempSum)
	assert.EqualValues(t, 310, s2023.MinTempSum)
	assert.EqualValues(t, 0, s2023.PrecipitationCount)
	assert.EqualValues(t, 0, s2023.PrecipitationSum)

	s2024 := aggs[1]
	assert.Equal(t, "2024", s2024.Year)
	assert.EqualValues(t, 0, s2024.MaxTempCount)
	assert.EqualValues(t, -10, s2024.MinTempSum)
	assert.EqualValues(t, 7, s2024.PrecipitationSum)

	assert.Equal(t, "T", aggs[2].StationID)
}

func TestUpsertAndPruneStatistics(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	avg := 26.0
	require.NoError(t, repo.UpsertStatistics(ctx, []*models.YearlyStat{
		{StationID: "S", Year: 2023, AvgMaxTemp: &avg, ObservationCount: 2, ValidMaxTempCount: 2, UpdatedAt: firstRun},
		{StationID: "GONE", Year: 1999, ObservationCount: 1, UpdatedAt: firstRun},
	}))

	updated := 27.5
	require.NoError(t, repo.UpsertStatistics(ctx, []*models.YearlyStat{
		{StationID: "S", Year: 2023, AvgMaxTemp: &updated, ObservationCount: 3, ValidMaxTempCount: 3, UpdatedAt: secondRun},
	}))

	year := 2023
	stats, total, err := repo.GetStatistics(ctx, StatisticsFilter{Year: &year, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, 27.5, *stats[0].AvgMaxTemp)
	assert.Nil(t, stats[0].AvgMinTemp)
	assert.Equal(t, 3, stats[0].ObservationCount)

	require.NoError(t, repo.AppendObservations(ctx, []*models.Observation{
		obs("S", "20230105", ip(1), nil, nil, firstRun),
	}))

	pruned, err := repo.PruneOrphanStatistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	stats, total, err = repo.GetStatistics(ctx, StatisticsFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "S", stats[0].StationID)
}

func TestHealthCheck(t *testing.T) {
	assert.NoError(t, newRepo(t).HealthCheck(context.Background()))
}
