package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete notas configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Query normalization and auditing
	Query QueryConfig `json:"query" yaml:"query"`
	Audit AuditConfig `json:"audit" yaml:"audit"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"eventBus"`

	// Edge
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
	CORS      CORSConfig      `json:"cors" yaml:"cors"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"readTimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"writeTimeout"` // seconds
}

// QueryConfig bounds list requests.
type QueryConfig struct {
	// Ceiling is the largest page a client may request; it is also the
	// default page size and the value advertised in Accept-Ranges.
	Ceiling int `json:"ceiling" yaml:"ceiling"`

	// TextFields overrides, per entity, which string columns are matched
	// with a contains pattern instead of equality.
	TextFields map[string][]string `json:"textFields" yaml:"textFields"`
}

// AuditConfig controls SQL statement auditing.
type AuditConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	SlowThresholdMs int    `json:"slowThresholdMs" yaml:"slowThresholdMs"`
	PublishSlow     bool   `json:"publishSlow" yaml:"publishSlow"` // emit slow statements on the event bus
	LogFile         string `json:"logFile" yaml:"logFile"`         // empty logs to stdout
	MaxSizeMB       int    `json:"maxSizeMb" yaml:"maxSizeMb"`
	MaxBackups      int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays      int    `json:"maxAgeDays" yaml:"maxAgeDays"`
}

// SlowThreshold returns the slow statement threshold as a duration.
func (c AuditConfig) SlowThreshold() time.Duration {
	return time.Duration(c.SlowThresholdMs) * time.Millisecond
}

// RateLimitConfig holds the per-client token bucket settings.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// CORSConfig holds cross-origin settings for browser clients.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowedOrigins" yaml:"allowedOrigins"`
	MaxAge         int      `json:"maxAge" yaml:"maxAge"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// DefaultConfig returns a configuration backed by SQLite, an in-process
// cache and the channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Query: QueryConfig{
			Ceiling: 50,
		},
		Audit: AuditConfig{
			Enabled:         true,
			SlowThresholdMs: 200,
			MaxSizeMB:       5,
			MaxBackups:      5,
			MaxAgeDays:      30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./notas.db",
			Migrate:    true,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     30 * time.Second,
			CountTTL:     time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			MaxAge:         300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the settings the core depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Query.Ceiling < 1 {
		errs = append(errs, fmt.Errorf("query.ceiling must be >= 1, got %d", c.Query.Ceiling))
	}
	if c.Audit.SlowThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("audit.slowThresholdMs must be >= 0, got %d", c.Audit.SlowThresholdMs))
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres", "pgx", "mysql":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", c.Repository.Driver))
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not supported", c.Cache.Type))
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("eventBus.type %q is not supported", c.EventBus.Type))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rateLimit requires requestsPerSecond > 0 and burst >= 1"))
	}
	return errors.Join(errs...)
}
