package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/chatrelay/chatrelay/internal/config"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func newMigrate(cfg config.PostgresConfig) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.DSN("pgx5"))
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(log *slog.Logger, cfg config.PostgresConfig) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer closeMigrate(log, m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// MigrateDown rolls back steps migrations.
func MigrateDown(log *slog.Logger, cfg config.PostgresConfig, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer closeMigrate(log, m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	log.Info("migrations rolled back", slog.Int("steps", steps))
	return nil
}

func closeMigrate(log *slog.Logger, m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Warn("close migrate", slog.Any("source_error", srcErr), slog.Any("database_error", dbErr))
	}
}
