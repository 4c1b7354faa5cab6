// Package api exposes the conversation engine over HTTP. Authentication
// is out of band: callers arrive with an already-verified identity in
// the X-User-ID header.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/task"
	"github.com/tasktalk/tasktalk/internal/turn"
	"github.com/tasktalk/tasktalk/internal/user"
)

// userIDHeader carries the verified caller identity.
const userIDHeader = "X-User-ID"

// Orchestrator runs one conversational turn.
type Orchestrator interface {
	Handle(ctx context.Context, owner, text string) *turn.Reply
}

// TaskReader serves the owner-scoped task listing.
type TaskReader interface {
	List(ctx context.Context, owner string, f task.ListFilter) ([]task.Item, error)
}

// HistoryReader serves the owner's message history.
type HistoryReader interface {
	History(ctx context.Context, owner string) ([]conversation.Message, error)
}

// AuditReader serves the owner's tool-invocation trail.
type AuditReader interface {
	Invocations(ctx context.Context, owner string, limit int32) ([]task.Invocation, error)
}

// ServerConfig contains everything needed to build the API server.
type ServerConfig struct {
	Logger        log.Logger
	Orchestrator  Orchestrator  // Required
	Tasks         TaskReader    // Required
	Conversations HistoryReader // Required
	Audit         AuditReader   // Required
	Pool          *pgxpool.Pool // Optional: nil degrades /ready to a liveness check
	RateRPS       float64       // Tokens per second per client (0 = default 5)
	RateBurst     int           // Bucket size per client (0 = default 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes configured. Health probes
// bypass the middleware stack so orchestration load never fails them.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Tasks == nil {
		return nil, errors.New("task reader is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("history reader is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit reader is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mh := &messageHandler{orchestrator: cfg.Orchestrator, logger: logger}
	qh := &queryHandler{tasks: cfg.Tasks, conversations: cfg.Conversations, audit: cfg.Audit, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversation/message", mh.send)
	mux.HandleFunc("GET /api/conversation/history", qh.history)
	mux.HandleFunc("GET /api/tasks", qh.listTasks)
	mux.HandleFunc("GET /api/audit", qh.listInvocations)

	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	rl := newRateLimiter(rps, burst)

	// Middleware stack, outermost first: Recovery → Logging → RateLimit.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// identity extracts and validates the caller identity. A missing or
// oversized header is rejected before any storage access.
func identity(w http.ResponseWriter, r *http.Request, logger log.Logger) (string, bool) {
	uid := r.Header.Get(userIDHeader)
	if uid == "" {
		writeError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required", logger)
		return "", false
	}
	if len(uid) > user.MaxIDLength {
		writeError(w, http.StatusBadRequest, "invalid_user", "X-User-ID header is too long", logger)
		return "", false
	}
	return uid, true
}
