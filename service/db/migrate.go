package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult reports the schema version before and after a migration run.
type MigrationResult struct {
	Before uint
	After  uint
	Dirty  bool
}

func newMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise migrator: %w", err)
	}
	return m, nil
}

// migrationURL rewrites a postgres:// URL to the pgx5:// scheme the migrate
// driver registers under.
func migrationURL(databaseURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

func version(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// MigrateUp applies every pending migration.
func MigrateUp(databaseURL string, logger *slog.Logger) (MigrationResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	var res MigrationResult
	if res.Before, _, err = version(m); err != nil {
		return res, fmt.Errorf("failed to read schema version: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("migration failed: %w", err)
	}

	if res.After, res.Dirty, err = version(m); err != nil {
		return res, fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("database migrated", "before", res.Before, "after", res.After)
	return res, nil
}

// MigrateDown rolls back steps migrations.
func MigrateDown(databaseURL string, steps int, logger *slog.Logger) (MigrationResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	var res MigrationResult
	if res.Before, _, err = version(m); err != nil {
		return res, fmt.Errorf("failed to read schema version: %w", err)
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return res, fmt.Errorf("rollback failed: %w", err)
	}
	if res.After, res.Dirty, err = version(m); err != nil {
		return res, fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("database rolled back", "before", res.Before, "after", res.After)
	return res, nil
}

// MigrationVersion returns the current schema version.
func MigrationVersion(databaseURL string) (MigrationResult, error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	v, dirty, err := version(m)
	if err != nil {
		return MigrationResult{}, err
	}
	return MigrationResult{Before: v, After: v, Dirty: dirty}, nil
}
