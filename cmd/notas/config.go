package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/notas/internal/domain"
)

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

// loadConfig overlays the defaults with an optional YAML file and then
// NOTAS_* environment variables, and validates the result.
func loadConfig(path string, lookup lookupFunc) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type envBinding struct {
	name string
	set  func(cfg *domain.Config, v string) error
}

func str(dst func(*domain.Config) *string) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func integer(dst func(*domain.Config) *int) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func boolean(dst func(*domain.Config) *bool) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

func duration(dst func(*domain.Config) *time.Duration) func(*domain.Config, string) error {
	return func(cfg *domain.Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"NOTAS_HOST", str(func(c *domain.Config) *string { return &c.Server.Host })},
	{"NOTAS_PORT", integer(func(c *domain.Config) *int { return &c.Server.Port })},

	{"NOTAS_QUERY_CEILING", integer(func(c *domain.Config) *int { return &c.Query.Ceiling })},

	{"NOTAS_AUDIT_ENABLED", boolean(func(c *domain.Config) *bool { return &c.Audit.Enabled })},
	{"NOTAS_AUDIT_SLOW_MS", integer(func(c *domain.Config) *int { return &c.Audit.SlowThresholdMs })},
	{"NOTAS_AUDIT_PUBLISH_SLOW", boolean(func(c *domain.Config) *bool { return &c.Audit.PublishSlow })},
	{"NOTAS_AUDIT_LOG_FILE", str(func(c *domain.Config) *string { return &c.Audit.LogFile })},

	{"NOTAS_DB_DRIVER", str(func(c *domain.Config) *string { return &c.Repository.Driver })},
	{"NOTAS_DB_MIGRATE", boolean(func(c *domain.Config) *bool { return &c.Repository.Migrate })},
	{"NOTAS_SQLITE_PATH", str(func(c *domain.Config) *string { return &c.Repository.SQLitePath })},
	{"NOTAS_POSTGRES_HOST", str(func(c *domain.Config) *string { return &c.Repository.PostgresHost })},
	{"NOTAS_POSTGRES_PORT", integer(func(c *domain.Config) *int { return &c.Repository.PostgresPort })},
	{"NOTAS_POSTGRES_USER", str(func(c *domain.Config) *string { return &c.Repository.PostgresUser })},
	{"NOTAS_POSTGRES_PASSWORD", str(func(c *domain.Config) *string { return &c.Repository.PostgresPassword })},
	{"NOTAS_POSTGRES_DB", str(func(c *domain.Config) *string { return &c.Repository.PostgresDB })},
	{"NOTAS_POSTGRES_SSLMODE", str(func(c *domain.Config) *string { return &c.Repository.PostgresSSLMode })},
	{"NOTAS_MYSQL_ADDR", str(func(c *domain.Config) *string { return &c.Repository.MySQLAddr })},
	{"NOTAS_MYSQL_USER", str(func(c *domain.Config) *string { return &c.Repository.MySQLUser })},
	{"NOTAS_MYSQL_PASSWORD", str(func(c *domain.Config) *string { return &c.Repository.MySQLPassword })},
	{"NOTAS_MYSQL_DB", str(func(c *domain.Config) *string { return &c.Repository.MySQLDB })},

	{"NOTAS_CACHE_TYPE", str(func(c *domain.Config) *string { return &c.Cache.Type })},
	{"NOTAS_CACHE_COUNT_TTL", duration(func(c *domain.Config) *time.Duration { return &c.Cache.CountTTL })},
	{"NOTAS_REDIS_ADDR", str(func(c *domain.Config) *string { return &c.Cache.RedisAddr })},
	{"NOTAS_REDIS_PASSWORD", str(func(c *domain.Config) *string { return &c.Cache.RedisPassword })},
	{"NOTAS_CACHE_TWO_PHASE", boolean(func(c *domain.Config) *bool { return &c.Cache.EnableTwoPhase })},

	{"NOTAS_EVENTBUS_TYPE", str(func(c *domain.Config) *string { return &c.EventBus.Type })},
	{"NOTAS_NATS_URL", str(func(c *domain.Config) *string { return &c.EventBus.NATSUrl })},
	{"NOTAS_NATS_TOKEN", str(func(c *domain.Config) *string { return &c.EventBus.NATSToken })},

	{"NOTAS_RATE_LIMIT_ENABLED", boolean(func(c *domain.Config) *bool { return &c.RateLimit.Enabled })},

	{"NOTAS_LOG_LEVEL", str(func(c *domain.Config) *string { return &c.Logging.Level })},
	{"NOTAS_LOG_FORMAT", str(func(c *domain.Config) *string { return &c.Logging.Format })},
}

// applyEnv applies every set NOTAS_* variable and reports all malformed
// values together. NOTAS_CORS_ORIGINS is a comma separated list.
func applyEnv(cfg *domain.Config, lookup lookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	if v, ok := lookup("NOTAS_CORS_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
	return errors.Join(errs...)
}
