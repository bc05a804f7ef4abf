package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"weather-pipeline/pkg/logging"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Direction selects which half of a migration pair to apply
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    VARCHAR(255) PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`

type migration struct {
	version string
	file    string
}

// Migrate applies (Up) or reverts (Down) the embedded schema for the
// connection's driver. Applied versions are tracked in schema_migrations,
// so running Up twice is a no-op.
func Migrate(ctx context.Context, db *DB, dir Direction) error {
	migrations, err := listMigrations(db.Driver(), dir)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "migrate_init", createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []string
	if err := db.SelectContext(ctx, "migrate_list", &applied, "SELECT version FROM schema_migrations"); err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	for _, m := range migrations {
		if (dir == Up) == done[m.version] {
			continue
		}

		body, err := fs.ReadFile(migrationFiles, m.file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", m.file, err)
		}

		if err := applyMigration(ctx, db, m, string(body), dir); err != nil {
			return err
		}

		db.logger.Info(ctx, "[DB_MIGRATE] Migration applied", logging.Fields{
			"version":   m.version,
			"direction": string(dir),
			"driver":    db.Driver(),
		})
	}

	return nil
}

func applyMigration(ctx context.Context, db *DB, m migration, body string, dir Direction) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.file, err)
		}
	}

	if dir == Up {
		_, err = tx.ExecContext(ctx, db.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			m.version, time.Now().UTC())
	} else {
		_, err = tx.ExecContext(ctx, db.Rebind("DELETE FROM schema_migrations WHERE version = ?"), m.version)
	}
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.version, err)
	}

	return tx.Commit()
}

func listMigrations(driver string, dir Direction) ([]migration, error) {
	root := path.Join("migrations", driver)
	entries, err := fs.ReadDir(migrationFiles, root)
	if err != nil {
		return nil, fmt.Errorf("no migrations for driver %q: %w", driver, err)
	}

	suffix := "." + string(dir) + ".sql"
	var out []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		out = append(out, migration{
			version: strings.TrimSuffix(name, suffix),
			file:    path.Join(root, name),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if dir == Down {
			return out[i].version > out[j].version
		}
		return out[i].version < out[j].version
	})
	return out, nil
}

// splitStatements drops comment lines and breaks a migration file on
// semicolons. Migration files must not contain semicolons inside literals.
func splitStatements(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
