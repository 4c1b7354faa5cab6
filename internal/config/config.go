// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (TASKTALK_* runtime override)
//  2. Config file (~/.tasktalk/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Server: listen address, per-user rate limits
//   - Storage: PostgreSQL connection (see storage.go)
//   - Resolver: intent-resolution model and timeout
//   - Log: level and format
//   - Trace: OTLP export endpoint, off by default
//
// Sensitive data (the database password) is never logged. Validation
// lives in validation.go with sentinel errors for errors.Is checks.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidListenAddr indicates the HTTP listen address is malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidResolverModel indicates the resolver model name is invalid.
	ErrInvalidResolverModel = errors.New("invalid resolver model")

	// ErrInvalidResolverTimeout indicates the resolver timeout is out of range.
	ErrInvalidResolverTimeout = errors.New("invalid resolver timeout")

	// ErrInvalidRateLimit indicates the rate limit settings are out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")
)

// Defaults applied when neither the config file nor the environment
// provides a value.
const (
	DefaultListenAddr      = "127.0.0.1:8380"
	DefaultResolverModel   = "googleai/gemini-2.5-flash"
	DefaultResolverTimeout = 20 * time.Second
	DefaultRateRPS         = 5
	DefaultRateBurst       = 10
)

// Config stores application configuration.
type Config struct {
	// Server
	ListenAddr string `mapstructure:"listen_addr"`
	RateRPS    int    `mapstructure:"rate_rps"`
	RateBurst  int    `mapstructure:"rate_burst"`

	// PostgreSQL connection
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Intent resolver
	ResolverModel   string        `mapstructure:"resolver_model"`
	ResolverTimeout time.Duration `mapstructure:"resolver_timeout"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Trace export. Empty endpoint leaves tracing off.
	TraceEndpoint    string `mapstructure:"trace_endpoint"`
	TraceService     string `mapstructure:"trace_service"`
	TraceEnvironment string `mapstructure:"trace_environment"`
}

// Load reads configuration from file, environment, and defaults.
// A missing config file is not an error; defaults and environment
// variables are enough to run.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("rate_rps", DefaultRateRPS)
	v.SetDefault("rate_burst", DefaultRateBurst)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "tasktalk")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_dbname", "tasktalk")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("resolver_model", DefaultResolverModel)
	v.SetDefault("resolver_timeout", DefaultResolverTimeout)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("trace_endpoint", "")
	v.SetDefault("trace_service", "tasktalk")
	v.SetDefault("trace_environment", "dev")

	v.SetEnvPrefix("TASKTALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := configDir(); err == nil {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configDir returns the tasktalk configuration directory (~/.tasktalk).
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".tasktalk"), nil
}
