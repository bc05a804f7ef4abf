package services

import (
	"bufio"
	"errors"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/models"
)

const (
	fieldDelimiter = "\t"
	fieldCount     = 4
	maxLineBytes   = 1 << 20
)

// Parser turns raw station files into observation candidates
type Parser struct {
	clock clockwork.Clock
}

// NewParser creates a parser stamping candidates with clock.Now()
func NewParser(clock clockwork.Clock) *Parser {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Parser{clock: clock}
}

// ObservationStream is a lazy, single-use sequence of candidates read from
// one station file. Counters are valid once All has been fully consumed.
type ObservationStream struct {
	r          io.Reader
	stationID  string
	ingestedAt time.Time

	lines   int
	skipped map[string]int
	err     error
}

// Parse prepares a stream over r. Nothing is read until All is iterated.
func (p *Parser) Parse(r io.Reader, stationID string) *ObservationStream {
	return &ObservationStream{
		r:          r,
		stationID:  stationID,
		ingestedAt: p.clock.Now().UTC().Truncate(time.Microsecond),
		skipped:    make(map[string]int),
	}
}

// All yields one candidate per well-formed line. Malformed lines are
// counted by reason and never stop the iteration.
func (s *ObservationStream) All() iter.Seq[*models.Observation] {
	return func(yield func(*models.Observation) bool) {
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			s.lines++

			obs, err := parseLine(scanner.Text(), s.stationID, s.ingestedAt)
			if err != nil {
				var perr *models.ParseError
				if errors.As(err, &perr) {
					s.skipped[perr.Reason]++
				}
				continue
			}

			if !yield(obs) {
				return
			}
		}

		s.err = scanner.Err()
	}
}

// StationID returns the station every candidate is stamped with
func (s *ObservationStream) StationID() string { return s.stationID }

// IngestedAt returns the timestamp shared by every candidate of this stream
func (s *ObservationStream) IngestedAt() time.Time { return s.ingestedAt }

// Lines returns the number of lines read so far
func (s *ObservationStream) Lines() int { return s.lines }

// Skipped returns the total number of malformed lines
func (s *ObservationStream) Skipped() int {
	total := 0
	for _, n := range s.skipped {
		total += n
	}
	return total
}

// SkippedByReason returns a copy of the malformed line counts
func (s *ObservationStream) SkippedByReason() map[string]int {
	out := make(map[string]int, len(s.skipped))
	for k, v := range s.skipped {
		out[k] = v
	}
	return out
}

// Err returns the read error that ended iteration, if any
func (s *ObservationStream) Err() error { return s.err }

// parseLine parses a single line from a weather data file
// Format: YYYYMMDD\tMAX_TEMP\tMIN_TEMP\tPRECIP
func parseLine(line, stationID string, ingestedAt time.Time) (*models.Observation, error) {
	parts := strings.Split(strings.TrimSpace(line), fieldDelimiter)
	if len(parts) != fieldCount {
		return nil, &models.ParseError{
			Reason:  models.ReasonFieldCount,
			Message: "expected " + strconv.Itoa(fieldCount) + " fields, got " + strconv.Itoa(len(parts)),
		}
	}

	maxTemp, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, &models.ParseError{Reason: models.ReasonMaxTemp, Message: "invalid max temperature", Err: err}
	}

	minTemp, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, &models.ParseError{Reason: models.ReasonMinTemp, Message: "invalid min temperature", Err: err}
	}

	precip, err := strconv.Atoi(strings.TrimSpace(parts[3]))
	if err != nil {
		return nil, &models.ParseError{Reason: models.ReasonPrecipitation, Message: "invalid precipitation", Err: err}
	}

	record := &models.RawWeatherRecord{
		Date:                 strings.TrimSpace(parts[0]),
		MaxTemperatureTenths: maxTemp,
		MinTemperatureTenths: minTemp,
		PrecipitationTenths:  precip,
	}

	return record.ToObservation(stationID, ingestedAt)
}
