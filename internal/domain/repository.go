// Package domain defines the core interfaces and types for notas.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for catalog-driven persistence.
// Every failure it returns is either a *Error or an error outside the
// taxonomy, which transports treat as Internal.
type Repository interface {
	// Reads
	List(ctx context.Context, entity string, q ListQuery) ([]*Record, error)
	Count(ctx context.Context, entity string, predicates []Predicate) (int, error)
	Get(ctx context.Context, entity string, key string, projection *ProjectionSpec) (*Record, error)

	// Writes
	Create(ctx context.Context, entity string, values *Record) (*Record, error)
	Update(ctx context.Context, entity string, key string, values *Record) (*Record, error)
	Delete(ctx context.Context, entity string, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres", "pgx" or "mysql"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific (postgres and pgx drivers)
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// MySQL specific
	MySQLAddr     string `yaml:"mysqlAddr"`
	MySQLUser     string `yaml:"mysqlUser"`
	MySQLPassword string `yaml:"mysqlPassword"`
	MySQLDB       string `yaml:"mysqlDb"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`

	// Migrate applies embedded migrations on startup.
	Migrate bool `yaml:"migrate"`
}
