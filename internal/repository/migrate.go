package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// Migrate applies all pending migrations for the driver's dialect.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	dialect, dir, err := migrationDialect(driver)
	if err != nil {
		return err
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func migrationDialect(driver string) (dialect, dir string, err error) {
	switch driver {
	case "sqlite":
		return "sqlite3", "migrations/sqlite", nil
	case "postgres", "pgx":
		return "postgres", "migrations/postgres", nil
	case "mysql":
		return "mysql", "migrations/mysql", nil
	}
	return "", "", fmt.Errorf("no migrations for driver: %s", driver)
}

// gooseLogger routes goose output through slog.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	slog.Debug("migration", "detail", fmt.Sprintf(format, v...))
}

func (gooseLogger) Fatalf(format string, v ...any) {
	slog.Error("migration failed", "detail", fmt.Sprintf(format, v...))
	os.Exit(1)
}
