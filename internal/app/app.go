// Package app holds the bootstrap shared by the command binaries.
package app

import (
	"context"
	"fmt"
	"sync"

	"weather-pipeline/internal/cache"
	"weather-pipeline/internal/config"
	"weather-pipeline/internal/pipeline"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Version is reported in every log entry
const Version = "1.0.0"

// MetricsNamespace prefixes every exported series
const MetricsNamespace = "weather_pipeline"

// defaultCollector registers with the process-wide Prometheus registry,
// which accepts each series only once.
var defaultCollector = sync.OnceValue(func() *metrics.Collector {
	return metrics.NewCollector(MetricsNamespace)
})

// App bundles validated configuration with the logger and metrics built from it
type App struct {
	Config  *config.Config
	Logger  *logging.StructuredLogger
	Metrics *metrics.Collector
}

// Load reads and validates configuration, then builds the logger and metrics
func Load(configPath, service string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return New(cfg, service, defaultCollector()), nil
}

// New wires an App from an already validated config
func New(cfg *config.Config, service string, collector *metrics.Collector) *App {
	level := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewStructuredLogger(service, Version, level)
	if cfg.Logging.Format == "console" {
		logger = logging.NewConsoleLogger(service, Version, level)
	}
	return &App{Config: cfg, Logger: logger, Metrics: collector}
}

// OpenStore connects to the configured store and brings its schema up to date
func (a *App) OpenStore(ctx context.Context) (*database.DB, error) {
	db, err := database.Open(ctx, a.Config.ToDatabaseConfig(), a.Logger, a.Metrics)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, database.Up); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// DialCache connects the query cache. It returns nil when caching is disabled.
func (a *App) DialCache(ctx context.Context) (*cache.QueryCache, error) {
	if !a.Config.Cache.Enabled {
		return nil, nil
	}
	return cache.Dial(ctx, a.Config.Cache.RedisAddr, a.Config.Cache.TTL, a.Logger)
}

// PipelineOptions maps configuration onto runner options
func (a *App) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		DataDir: a.Config.Ingestion.DataDir,
		Ingestion: services.IngestionConfig{
			BatchSize:   a.Config.Ingestion.BatchSize,
			FilePattern: a.Config.Ingestion.FilePattern,
		},
		PruneOrphanStats: a.Config.Pipeline.PruneOrphanStats,
	}
}

// NewRunner builds a pipeline runner over OpenStore. A nil qc disables
// cache invalidation.
func (a *App) NewRunner(opts pipeline.Options, qc *cache.QueryCache) *pipeline.Runner {
	var inv pipeline.Invalidator
	if qc != nil {
		inv = qc
	}
	return pipeline.NewRunner(a.OpenStore, inv, nil, opts, a.Logger, a.Metrics)
}

// QueryConfig maps configuration onto query service limits
func (a *App) QueryConfig() services.QueryConfig {
	return services.QueryConfig{
		DefaultPerPage: a.Config.API.DefaultPerPage,
		MaxPerPage:     a.Config.API.MaxPerPage,
	}
}
