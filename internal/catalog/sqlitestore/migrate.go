package sqlitestore

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbfs "github.com/memohai/mediastore/db"
)

// Version is the schema state after a migration command.
type Version struct {
	Version uint
	Dirty   bool
}

// Migrate applies or rolls back the embedded catalog migrations on sqlDB.
// Supported commands: "up", "down", "version", "force N".
// The handle stays open; closing it is the caller's job.
func Migrate(logger *slog.Logger, sqlDB *sql.DB, command string, args []string) (Version, error) {
	switch command {
	case "up", "down", "version", "force":
	default:
		return Version{}, fmt.Errorf("unknown migrate command: %s (use: up, down, version, force)", command)
	}
	if command == "force" && len(args) == 0 {
		return Version{}, fmt.Errorf("force requires a version number argument")
	}
	if logger == nil {
		logger = slog.Default()
	}

	sourceDriver, err := iofs.New(dbfs.MigrationsFS, "migrations")
	if err != nil {
		return Version{}, fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return Version{}, fmt.Errorf("migration driver: %w", err)
	}
	// m.Close would close sqlDB through the driver, so only the source is released.
	defer func() { _ = sourceDriver.Close() }()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return Version{}, fmt.Errorf("migrate init: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return Version{}, fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return Version{}, fmt.Errorf("migrate down: %w", err)
		}
	case "force":
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return Version{}, fmt.Errorf("invalid version: %w", err)
		}
		if err := m.Force(version); err != nil {
			return Version{}, fmt.Errorf("migrate force: %w", err)
		}
	}

	ver, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Version{}, nil
	}
	if err != nil {
		return Version{}, fmt.Errorf("migrate version: %w", err)
	}
	logger.Debug("catalog schema", slog.String("command", command), slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	return Version{Version: ver, Dirty: dirty}, nil
}

// MigrateFile opens the database at path, runs command, and closes it.
func MigrateFile(logger *slog.Logger, path, command string, args []string) (Version, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return Version{}, fmt.Errorf("open sqlite db: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()
	return Migrate(logger, sqlDB, command, args)
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
