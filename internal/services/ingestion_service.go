package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// DefaultBatchSize bounds the number of rows written per transaction
const DefaultBatchSize = 1000

// ErrNoDataFiles is returned when a directory holds no files matching the pattern
var ErrNoDataFiles = errors.New("no data files found")

// IngestionConfig controls file discovery and batching
type IngestionConfig struct {
	BatchSize   int
	FilePattern string
}

// IngestionService appends parsed station files to the observation store
type IngestionService struct {
	repo    repository.WeatherRepository
	parser  *Parser
	config  IngestionConfig
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics for a directory
type IngestionResult struct {
	TotalFiles      int
	FilesFailed     int
	TotalLines      int
	Appended        int
	Skipped         int
	SkippedByReason map[string]int
	Duration        time.Duration
	Errors          []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	StationID       string
	Lines           int
	Appended        int
	Skipped         int
	SkippedByReason map[string]int
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.WeatherRepository, parser *Parser, cfg IngestionConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FilePattern == "" {
		cfg.FilePattern = "*.txt"
	}
	return &IngestionService{
		repo:    repo,
		parser:  parser,
		config:  cfg,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// DiscoverFiles lists the station files under dataDir in sorted order
func DiscoverFiles(dataDir, pattern string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// StationIDFromPath derives the station identifier from a file's base name
func StationIDFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IngestDirectory ingests every matching station file. A failing file is
// recorded in Errors and does not stop the remaining files.
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string) (*IngestionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"data_dir":     dataDir,
		"batch_size":   s.config.BatchSize,
		"file_pattern": s.config.FilePattern,
		"stage":        "INITIALIZATION",
	})

	files, err := DiscoverFiles(dataDir, s.config.FilePattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDataFiles, dataDir)
	}

	result := &IngestionResult{
		TotalFiles:      len(files),
		SkippedByReason: make(map[string]int),
		Errors:          make([]string, 0),
	}

	s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
		"file_count": len(files),
		"stage":      "FILE_DISCOVERY",
	})

	for _, filePath := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fileResult, err := s.IngestFile(ctx, filePath)
		if fileResult != nil {
			result.add(fileResult)
		}
		if err != nil {
			result.FilesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
				"stage":     "FILE_PROCESSING",
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
			"file_path":  filePath,
			"station_id": fileResult.StationID,
			"lines":      fileResult.Lines,
			"appended":   fileResult.Appended,
			"skipped":    fileResult.Skipped,
			"stage":      "FILE_COMPLETE",
		})
	}

	result.Duration = time.Since(startTime)
	s.metrics.IngestionDuration.Observe(result.Duration.Seconds())

	fields := logging.Fields{
		"total_files":      result.TotalFiles,
		"files_failed":     result.FilesFailed,
		"total_lines":      result.TotalLines,
		"appended":         result.Appended,
		"skipped":          result.Skipped,
		"duration_seconds": result.Duration.Seconds(),
		"error_count":      len(result.Errors),
		"stage":            "COMPLETE",
	}
	if secs := result.Duration.Seconds(); secs > 0 {
		fields["records_per_second"] = float64(result.Appended) / secs
	}
	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", fields)

	return result, nil
}

func (r *IngestionResult) add(f *FileIngestionResult) {
	r.TotalLines += f.Lines
	r.Appended += f.Appended
	r.Skipped += f.Skipped
	for reason, n := range f.SkippedByReason {
		r.SkippedByReason[reason] += n
	}
}

// IngestFile ingests a single station file
func (s *IngestionService) IngestFile(ctx context.Context, filePath string) (*FileIngestionResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.IngestReader(ctx, file, StationIDFromPath(filePath))
}

// IngestReader parses r and appends the candidates in batches. A batch that
// fails is retried once; a second failure returns *models.StorageError with
// the rows already committed for this input. The partial result is returned
// alongside any error.
func (s *IngestionService) IngestReader(ctx context.Context, r io.Reader, stationID string) (*FileIngestionResult, error) {
	stream := s.parser.Parse(r, stationID)
	result := &FileIngestionResult{StationID: stationID}

	finish := func() {
		result.Lines = stream.Lines()
		result.Skipped = stream.Skipped()
		result.SkippedByReason = stream.SkippedByReason()
		s.metrics.IngestionLinesTotal.Add(float64(result.Lines))
		for reason, n := range result.SkippedByReason {
			s.metrics.RecordSkippedLines(reason, n)
		}
	}

	batch := make([]*models.Observation, 0, s.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.appendWithRetry(ctx, stationID, batch); err != nil {
			return &models.StorageError{Op: "append", Committed: result.Appended, Err: err}
		}
		result.Appended += len(batch)
		batch = batch[:0]
		return nil
	}

	for obs := range stream.All() {
		batch = append(batch, obs)
		if len(batch) >= s.config.BatchSize {
			if err := flush(); err != nil {
				finish()
				return result, err
			}
		}
	}

	if err := flush(); err != nil {
		finish()
		return result, err
	}
	finish()

	if err := stream.Err(); err != nil {
		return result, fmt.Errorf("error reading station %s: %w", stationID, err)
	}

	return result, nil
}

func (s *IngestionService) appendWithRetry(ctx context.Context, stationID string, batch []*models.Observation) error {
	err := s.repo.AppendObservations(ctx, batch)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	s.metrics.IngestionBatchRetries.Inc()
	s.logger.Warn(ctx, "[INGEST_BATCH_RETRY] Batch append failed, retrying once", logging.Fields{
		"station_id": stationID,
		"batch_size": len(batch),
		"error":      err.Error(),
	})

	if err := s.repo.AppendObservations(ctx, batch); err != nil {
		s.metrics.RecordIngestionError("storage_error")
		return err
	}
	return nil
}

// InspectResult summarizes a parse-only pass over one file
type InspectResult struct {
	Path            string
	StationID       string
	Lines           int
	Valid           int
	Skipped         int
	SkippedByReason map[string]int
}

// InspectFile parses a station file without touching the store
func InspectFile(parser *Parser, filePath string) (*InspectResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stream := parser.Parse(file, StationIDFromPath(filePath))
	result := &InspectResult{Path: filePath, StationID: stream.StationID()}
	for range stream.All() {
		result.Valid++
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filePath, err)
	}

	result.Lines = stream.Lines()
	result.Skipped = stream.Skipped()
	result.SkippedByReason = stream.SkippedByReason()
	return result, nil
}
