// Package testutil provides shared test infrastructure. Integration
// tests use a throwaway PostgreSQL container so they exercise the real
// SQL, including ON CONFLICT and row-lock behavior.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tasktalk/tasktalk/db"
)

// TestDB wraps a PostgreSQL test container with a ready connection pool.
// The schema is migrated before it is handed to the test.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a PostgreSQL container, applies migrations, and
// registers cleanup with t. Skipped in -short mode and when Docker is
// not available.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	// testcontainers panics (rather than returning an error) when no
	// Docker host can be detected; recover so the skip below still fires.
	pgContainer, err := func() (c *postgres.PostgresContainer, err error) {
		defer func() {
			if r := recover(); r != nil {
				t.Skipf("starting PostgreSQL container (is Docker running?): %v", r)
			}
		}()
		return postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("tasktalk_test"),
			postgres.WithUsername("tasktalk_test"),
			postgres.WithPassword("test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
	}()
	if err != nil {
		t.Skipf("starting PostgreSQL container (is Docker running?): %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pinging database: %v", err)
	}

	return &TestDB{Container: pgContainer, Pool: pool, ConnStr: connStr}
}
