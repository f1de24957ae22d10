package repository

import (
	"database/sql/driver"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/opensource-finance/notas/internal/domain"
)

// postgresDriver returns lib/pq and a keyword/value DSN.
func postgresDriver(cfg domain.RepositoryConfig) (driver.Driver, string) {
	return &pq.Driver{}, postgresDSN(cfg)
}

// pgxDriver returns the pgx database/sql driver. It accepts the same DSN.
func pgxDriver(cfg domain.RepositoryConfig) (driver.Driver, string) {
	return stdlib.GetDefaultDriver(), postgresDSN(cfg)
}

func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}

	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "notas"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host,
		port,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		dbname,
		getSSLMode(cfg.PostgresSSLMode),
	)
}

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
