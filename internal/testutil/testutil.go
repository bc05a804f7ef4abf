// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// SQLiteConfig returns a config pointing at a fresh file under t.TempDir()
func SQLiteConfig(t *testing.T) *database.Config {
	t.Helper()
	return &database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "weather.db"),
	}
}

// NewSQLiteDB opens a migrated SQLite store that is closed when the test ends
func NewSQLiteDB(t *testing.T) *database.DB {
	t.Helper()
	return OpenMigrated(t, SQLiteConfig(t))
}

// OpenMigrated opens cfg, applies the schema and registers cleanup
func OpenMigrated(t *testing.T, cfg *database.Config) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, cfg, logging.NewNopLogger(), metrics.NewTestCollector())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db, database.Up))
	return db
}

// NewRedis starts an in-process Redis and returns a client for it
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}
