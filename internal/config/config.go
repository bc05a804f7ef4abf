package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"weather-pipeline/pkg/database"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "WX_"

// Config holds all configuration for the pipeline and query service
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	API       APIConfig       `yaml:"api"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host         string        `yaml:"host" default:"0.0.0.0"`
	Port         int           `yaml:"port" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" default:"60s"`
}

// DatabaseConfig holds store connection settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" default:"sqlite"`
	Host            string        `yaml:"host" default:"localhost"`
	Port            int           `yaml:"port" default:"5432"`
	User            string        `yaml:"user" default:"weather"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" default:"weather"`
	SSLMode         string        `yaml:"ssl_mode" default:"disable"`
	Path            string        `yaml:"path" default:"weather.db"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"1h"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" default:"10m"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
}

// IngestionConfig holds station file ingestion settings
type IngestionConfig struct {
	DataDir     string `yaml:"data_dir" default:"wx_data"`
	BatchSize   int    `yaml:"batch_size" default:"1000"`
	FilePattern string `yaml:"file_pattern" default:"*.txt"`
}

// PipelineConfig holds orchestration settings
type PipelineConfig struct {
	PruneOrphanStats bool   `yaml:"prune_orphan_stats" default:"false"`
	Schedule         string `yaml:"schedule" default:"@daily"`
}

// CacheConfig holds the Redis query cache settings
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" default:"false"`
	RedisAddr string        `yaml:"redis_addr" default:"localhost:6379"`
	TTL       time.Duration `yaml:"ttl" default:"5m"`
}

// APIConfig holds query service limits
type APIConfig struct {
	DefaultPerPage int     `yaml:"default_per_page" default:"10"`
	MaxPerPage     int     `yaml:"max_per_page" default:"100"`
	RateLimit      float64 `yaml:"rate_limit" default:"0"`
	RateBurst      int     `yaml:"rate_burst" default:"20"`
}

// LoadConfig builds configuration from struct defaults, an optional YAML
// file, a .env file and WX_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_HOST", &c.Server.Host)
	integer("SERVER_PORT", &c.Server.Port)
	duration("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	duration("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	duration("SERVER_IDLE_TIMEOUT", &c.Server.IdleTimeout)

	str("DB_DRIVER", &c.Database.Driver)
	str("DB_HOST", &c.Database.Host)
	integer("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Database)
	str("DB_SSL_MODE", &c.Database.SSLMode)
	str("DB_PATH", &c.Database.Path)
	integer("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	integer("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	duration("DB_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime)
	duration("DB_CONN_MAX_IDLE_TIME", &c.Database.ConnMaxIdleTime)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	str("DATA_DIR", &c.Ingestion.DataDir)
	integer("BATCH_SIZE", &c.Ingestion.BatchSize)
	str("FILE_PATTERN", &c.Ingestion.FilePattern)

	boolean("PRUNE_ORPHAN_STATS", &c.Pipeline.PruneOrphanStats)
	str("SCHEDULE", &c.Pipeline.Schedule)

	boolean("CACHE_ENABLED", &c.Cache.Enabled)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	duration("CACHE_TTL", &c.Cache.TTL)

	integer("API_DEFAULT_PER_PAGE", &c.API.DefaultPerPage)
	integer("API_MAX_PER_PAGE", &c.API.MaxPerPage)
	float("API_RATE_LIMIT", &c.API.RateLimit)
	integer("API_RATE_BURST", &c.API.RateBurst)

	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Validate checks the configuration for values the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case database.DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			errs = append(errs, errors.New("database.host and database.database are required for postgres"))
		}
	case database.DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q",
			database.DriverPostgres, database.DriverSQLite, c.Database.Driver))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Ingestion.BatchSize < 1 || c.Ingestion.BatchSize > 10000 {
		errs = append(errs, fmt.Errorf("ingestion.batch_size must be between 1 and 10000, got %d", c.Ingestion.BatchSize))
	}
	if c.Ingestion.FilePattern == "" {
		errs = append(errs, errors.New("ingestion.file_pattern is required"))
	}

	if c.API.DefaultPerPage < 1 || c.API.MaxPerPage < 1 {
		errs = append(errs, errors.New("api per-page limits must be positive"))
	} else if c.API.MaxPerPage < c.API.DefaultPerPage {
		errs = append(errs, fmt.Errorf("api.max_per_page (%d) is below api.default_per_page (%d)",
			c.API.MaxPerPage, c.API.DefaultPerPage))
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit cannot be negative"))
	}

	if _, err := cron.ParseStandard(c.Pipeline.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.schedule: %w", err))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognised", c.Logging.Level))
	}

	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required when the cache is enabled"))
	}

	return errors.Join(errs...)
}

// ToDatabaseConfig converts to the pkg/database connection config
func (c *Config) ToDatabaseConfig() *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
