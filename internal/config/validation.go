package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Valid PostgreSQL SSL modes accepted by libpq-compatible drivers.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration needed to run the HTTP service.
// It returns the first violation found, wrapped around a sentinel error
// so callers can use errors.Is.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidListenAddr, c.ListenAddr, err)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.ResolverModel) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidResolverModel)
	}
	if c.ResolverTimeout < time.Second || c.ResolverTimeout > 5*time.Minute {
		return fmt.Errorf("%w: %s (must be 1s-5m)", ErrInvalidResolverTimeout, c.ResolverTimeout)
	}

	if c.RateRPS < 1 || c.RateBurst < 1 {
		return fmt.Errorf("%w: rps=%d burst=%d (must be >= 1)", ErrInvalidRateLimit, c.RateRPS, c.RateBurst)
	}
	if c.RateBurst < c.RateRPS {
		return fmt.Errorf("%w: burst %d smaller than rps %d", ErrInvalidRateLimit, c.RateBurst, c.RateRPS)
	}

	return nil
}
