package repository

import (
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"

	"github.com/opensource-finance/notas/internal/domain"
)

// sqliteDriver returns the pure Go SQLite driver (no CGO required) and its DSN.
func sqliteDriver(cfg domain.RepositoryConfig) (driver.Driver, string, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./notas.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Foreign keys are off by default in SQLite; conflicts depend on them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_time_format=sqlite", path)

	return &sqlite.Driver{}, dsn, nil
}
