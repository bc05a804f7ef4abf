package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ingestedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// TestRawWeatherRecord_ToObservation covers sentinel translation and date checks
func TestRawWeatherRecord_ToObservation(t *testing.T) {
	tests := []struct {
		name        string
		record      RawWeatherRecord
		wantReason  string
		checkValues func(*testing.T, *Observation)
	}{
		{
			name:   "valid record with all values",
			record: RawWeatherRecord{Date: "20230115", MaxTemperatureTenths: 250, MinTemperatureTenths: 150, PrecipitationTenths: 100},
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Equal(t, "TEST001", obs.StationID)
				assert.Equal(t, "20230115", obs.Date)
				assert.Equal(t, "2023", obs.Year())
				require.NotNil(t, obs.MaxTemp)
				assert.Equal(t, 250, *obs.MaxTemp)
				require.NotNil(t, obs.MinTemp)
				assert.Equal(t, 150, *obs.MinTemp)
				require.NotNil(t, obs.Precipitation)
				assert.Equal(t, 100, *obs.Precipitation)
				assert.Equal(t, ingestedAt, obs.IngestedAt)
			},
		},
		{
			name:   "missing max temperature",
			record: RawWeatherRecord{Date: "20230101", MaxTemperatureTenths: -9999, MinTemperatureTenths: 150, PrecipitationTenths: 0},
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Nil(t, obs.MaxTemp)
				require.NotNil(t, obs.MinTemp)
				assert.Equal(t, 150, *obs.MinTemp)
				require.NotNil(t, obs.Precipitation)
				assert.Equal(t, 0, *obs.Precipitation)
			},
		},
		{
			name:   "all values missing",
			record: RawWeatherRecord{Date: "20230101", MaxTemperatureTenths: -9999, MinTemperatureTenths: -9999, PrecipitationTenths: -9999},
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Nil(t, obs.MaxTemp)
				assert.Nil(t, obs.MinTemp)
				assert.Nil(t, obs.Precipitation)
			},
		},
		{
			name:   "negative temperatures are kept",
			record: RawWeatherRecord{Date: "19850120", MaxTemperatureTenths: -22, MinTemperatureTenths: -128, PrecipitationTenths: 94},
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Equal(t, -22, *obs.MaxTemp)
				assert.Equal(t, -128, *obs.MinTemp)
			},
		},
		{
			name:       "day out of range",
			record:     RawWeatherRecord{Date: "20230431"},
			wantReason: ReasonDate,
		},
		{
			name:       "leap day in common year",
			record:     RawWeatherRecord{Date: "20230229"},
			wantReason: ReasonDate,
		},
		{
			name:       "short date",
			record:     RawWeatherRecord{Date: "2023011"},
			wantReason: ReasonDate,
		},
		{
			name:       "non-digit date",
			record:     RawWeatherRecord{Date: "2023-1-1"},
			wantReason: ReasonDate,
		},
		{
			name:   "leap day in leap year",
			record: RawWeatherRecord{Date: "20240229", MaxTemperatureTenths: 10, MinTemperatureTenths: 5, PrecipitationTenths: 0},
			checkValues: func(t *testing.T, obs *Observation) {
				assert.Equal(t, "20240229", obs.Date)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := tt.record.ToObservation("TEST001", ingestedAt)
			if tt.wantReason != "" {
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, tt.wantReason, perr.Reason)
				assert.Nil(t, obs)
				return
			}
			require.NoError(t, err)
			tt.checkValues(t, obs)
		})
	}
}

func TestYearlyAggregate_ToYearlyStat(t *testing.T) {
	t.Run("averages in degrees and totals in centimetres", func(t *testing.T) {
		agg := YearlyAggregate{
			StationID:          "S",
			Year:               "2023",
			ObservationCount:   2,
			MaxTempCount:       2,
			MaxTempSum:         250 + 270,
			MinTempCount:       2,
			MinTempSum:         150 + 160,
			PrecipitationCount: 2,
			PrecipitationSum:   0 + 5,
		}
		stat, err := agg.ToYearlyStat(ingestedAt)
		require.NoError(t, err)

		assert.Equal(t, 2023, stat.Year)
		assert.Equal(t, 26.0, *stat.AvgMaxTemp)
		assert.Equal(t, 15.5, *stat.AvgMinTemp)
		assert.Equal(t, 0.05, *stat.TotalPrecipitation)
		assert.Equal(t, 2, stat.ObservationCount)
		assert.Equal(t, ingestedAt, stat.UpdatedAt)
	})

	t.Run("zero non-null readings yield nil, not zero", func(t *testing.T) {
		agg := YearlyAggregate{StationID: "S", Year: "2023", ObservationCount: 1, MinTempCount: 1, MinTempSum: -50}
		stat, err := agg.ToYearlyStat(ingestedAt)
		require.NoError(t, err)

		assert.Nil(t, stat.AvgMaxTemp)
		assert.Nil(t, stat.TotalPrecipitation)
		require.NotNil(t, stat.AvgMinTemp)
		assert.Equal(t, -5.0, *stat.AvgMinTemp)
	})

	t.Run("rounds to two decimals", func(t *testing.T) {
		agg := YearlyAggregate{StationID: "S", Year: "2023", MaxTempCount: 3, MaxTempSum: 100}
		stat, err := agg.ToYearlyStat(ingestedAt)
		require.NoError(t, err)
		assert.Equal(t, 3.33, *stat.AvgMaxTemp)
	})

	t.Run("exact halves round away from zero", func(t *testing.T) {
		agg := YearlyAggregate{
			StationID:    "S",
			Year:         "2023",
			MaxTempCount: 20,
			MaxTempSum:   201,
			MinTempCount: 20,
			MinTempSum:   -201,
		}
		stat, err := agg.ToYearlyStat(ingestedAt)
		require.NoError(t, err)
		assert.Equal(t, 1.01, *stat.AvgMaxTemp)
		assert.Equal(t, -1.01, *stat.AvgMinTemp)
	})

	t.Run("bad year", func(t *testing.T) {
		agg := YearlyAggregate{StationID: "S", Year: "20x3"}
		_, err := agg.ToYearlyStat(ingestedAt)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestIsYear(t *testing.T) {
	assert.True(t, IsYear("1985"))
	assert.False(t, IsYear("985"))
	assert.False(t, IsYear("19850"))
	assert.False(t, IsYear("19a5"))
	assert.False(t, IsYear("１９８５"))
}

func TestErrorTaxonomy(t *testing.T) {
	storage := &StorageError{Op: "append", Committed: 1000, Err: errors.New("connection reset")}
	wrapped := fmt.Errorf("ingest file: %w", storage)

	assert.True(t, IsTransient(wrapped))
	assert.Contains(t, storage.Error(), "1000 committed")
	var serr *StorageError
	require.ErrorAs(t, wrapped, &serr)
	assert.Equal(t, 1000, serr.Committed)

	verr := &ValidationError{Field: "date", Value: "2023-02-31", Message: "bad date", Err: ErrInvalidDate}
	assert.False(t, IsTransient(verr))
	assert.ErrorIs(t, verr, ErrInvalidDate)
	assert.NotErrorIs(t, verr, ErrInvalidYear)

	assert.False(t, IsTransient(&NotFoundError{Resource: "observations"}))
	assert.Equal(t, "no observations found", (&NotFoundError{Resource: "observations"}).Error())
	assert.Equal(t, "line 3: date: nope", (&ParseError{Line: 3, Reason: ReasonDate, Message: "nope"}).Error())
	assert.False(t, IsTransient(errors.New("plain")))
}
