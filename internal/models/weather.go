package models

import (
	"strconv"
	"time"
)

// MissingValue is the raw-data marker for an absent measurement
const MissingValue = -9999

// DateLayout is the canonical 8-digit observation date form
const DateLayout = "20060102"

// Observation is one daily station reading. Numeric fields are kept in the
// source units: tenths of a degree Celsius and tenths of a millimetre.
// A nil pointer means the source carried the -9999 sentinel.
type Observation struct {
	ID            int64     `json:"id" db:"id"`
	StationID     string    `json:"station_id" db:"station_id"`
	Date          string    `json:"date" db:"obs_date"`
	MaxTemp       *int      `json:"max_temp" db:"max_temp"`
	MinTemp       *int      `json:"min_temp" db:"min_temp"`
	Precipitation *int      `json:"precipitation" db:"precipitation"`
	IngestedAt    time.Time `json:"ingested_at" db:"ingested_at"`
}

// YearlyStat holds derived statistics for one station-year
type YearlyStat struct {
	ID                      int64     `json:"-" db:"id"`
	StationID               string    `json:"station_id" db:"station_id"`
	Year                    int       `json:"year" db:"year"`
	AvgMaxTemp              *float64  `json:"avg_max_temp" db:"avg_max_temp"`
	AvgMinTemp              *float64  `json:"avg_min_temp" db:"avg_min_temp"`
	TotalPrecipitation      *float64  `json:"total_precipitation" db:"total_precipitation"`
	ObservationCount        int       `json:"observation_count" db:"observation_count"`
	ValidMaxTempCount       int       `json:"valid_max_temp_count" db:"valid_max_temp_count"`
	ValidMinTempCount       int       `json:"valid_min_temp_count" db:"valid_min_temp_count"`
	ValidPrecipitationCount int       `json:"valid_precipitation_count" db:"valid_precipitation_count"`
	UpdatedAt               time.Time `json:"updated_at" db:"updated_at"`
}

// YearlyAggregate is the raw per station-year grouping read from the store.
// Sums are exact integers in source units; division happens in ToYearlyStat.
type YearlyAggregate struct {
	StationID          string `db:"station_id"`
	Year               string `db:"year"`
	ObservationCount   int64  `db:"observation_count"`
	MaxTempCount       int64  `db:"max_temp_count"`
	MaxTempSum         int64  `db:"max_temp_sum"`
	MinTempCount       int64  `db:"min_temp_count"`
	MinTempSum         int64  `db:"min_temp_sum"`
	PrecipitationCount int64  `db:"precipitation_count"`
	PrecipitationSum   int64  `db:"precipitation_sum"`
}

// ToYearlyStat converts sums and counts into the published units:
// mean tenths of a degree / 10 for temperatures, summed tenths of a mm / 100
// for precipitation (cm). A field with no non-null readings stays nil.
func (a *YearlyAggregate) ToYearlyStat(updatedAt time.Time) (*YearlyStat, error) {
	year, err := strconv.Atoi(a.Year)
	if err != nil {
		return nil, &ValidationError{Field: "year", Value: a.Year, Message: "stored observation date has a non-numeric year"}
	}

	stat := &YearlyStat{
		StationID:               a.StationID,
		Year:                    year,
		ObservationCount:        int(a.ObservationCount),
		ValidMaxTempCount:       int(a.MaxTempCount),
		ValidMinTempCount:       int(a.MinTempCount),
		ValidPrecipitationCount: int(a.PrecipitationCount),
		UpdatedAt:               updatedAt,
	}

	if a.MaxTempCount > 0 {
		v := meanHundredths(a.MaxTempSum, a.MaxTempCount)
		stat.AvgMaxTemp = &v
	}
	if a.MinTempCount > 0 {
		v := meanHundredths(a.MinTempSum, a.MinTempCount)
		stat.AvgMinTemp = &v
	}
	if a.PrecipitationCount > 0 {
		v := float64(a.PrecipitationSum) / 100
		stat.TotalPrecipitation = &v
	}

	return stat, nil
}

// meanHundredths turns a sum of tenths over count readings into a mean in
// whole units rounded half away from zero to two decimals. Rounding is done
// on the exact integer ratio, never on a float.
func meanHundredths(sumTenths, count int64) float64 {
	return float64(roundRatio(sumTenths*10, count)) / 100
}

// roundRatio returns num/den rounded half away from zero; den must be positive
func roundRatio(num, den int64) int64 {
	neg := num < 0
	if neg {
		num = -num
	}
	q := (2*num + den) / (2 * den)
	if neg {
		return -q
	}
	return q
}

// RawWeatherRecord represents a single line from input data files
type RawWeatherRecord struct {
	Date                 string
	MaxTemperatureTenths int // 0.1°C, may be -9999
	MinTemperatureTenths int // 0.1°C, may be -9999
	PrecipitationTenths  int // 0.1mm, may be -9999
}

// ToObservation validates the calendar date and translates sentinels to nil
func (r *RawWeatherRecord) ToObservation(stationID string, ingestedAt time.Time) (*Observation, error) {
	if !isDigits(r.Date, 8) {
		return nil, &ParseError{Reason: ReasonDate, Message: "date must be 8 digits YYYYMMDD"}
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return nil, &ParseError{Reason: ReasonDate, Message: "invalid calendar date", Err: err}
	}

	return &Observation{
		StationID:     stationID,
		Date:          r.Date,
		MaxTemp:       fromRaw(r.MaxTemperatureTenths),
		MinTemp:       fromRaw(r.MinTemperatureTenths),
		Precipitation: fromRaw(r.PrecipitationTenths),
		IngestedAt:    ingestedAt,
	}, nil
}

func fromRaw(v int) *int {
	if v == MissingValue {
		return nil
	}
	return &v
}

// Year returns the 4-digit year prefix of the observation date
func (o *Observation) Year() string {
	if len(o.Date) < 4 {
		return ""
	}
	return o.Date[:4]
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsYear reports whether s is exactly four ASCII digits
func IsYear(s string) bool {
	return isDigits(s, 4)
}
