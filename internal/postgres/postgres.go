// Package postgres manages the PostgreSQL connection pool shared by all
// stores. The pool is the only shared mutable resource in the service;
// request workers hold no other state.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing and health-check defaults.
const (
	defaultMaxConns        = 16
	defaultMinConns        = 2
	defaultHealthCheckTime = time.Minute
	connectTimeout         = 10 * time.Second
)

// DBTX is the subset of pgx operations the stores need. It is satisfied
// by both *pgxpool.Pool and pgx.Tx, so store queries run unchanged
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open creates a connection pool for the given DSN and verifies
// connectivity with a ping before returning.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	cfg.MaxConns = defaultMaxConns
	cfg.MinConns = defaultMinConns
	cfg.HealthCheckPeriod = defaultHealthCheckTime

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
