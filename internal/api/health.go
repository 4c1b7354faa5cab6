package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktalk/tasktalk/internal/log"
)

const readinessPingTimeout = 2 * time.Second

// health reports process liveness for Docker/Kubernetes probes.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness additionally pings the database pool. With no pool wired it
// degrades to a liveness check.
func readiness(pool *pgxpool.Pool, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				logger.Warn("readiness ping failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not_ready", "database unavailable", logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	}
}
