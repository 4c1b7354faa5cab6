package api

import (
	"net/http"
	"strconv"

	"github.com/tasktalk/tasktalk/internal/conversation"
	"github.com/tasktalk/tasktalk/internal/log"
	"github.com/tasktalk/tasktalk/internal/task"
)

// Bounds on the audit listing.
const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// queryHandler serves the read-only endpoints. Every query is
// owner-scoped at the SQL level, so one user can never page through
// another's data.
type queryHandler struct {
	tasks         TaskReader
	conversations HistoryReader
	audit         AuditReader
	logger        log.Logger
}

type tasksResponse struct {
	Tasks []task.Item `json:"tasks"`
}

type historyResponse struct {
	Messages []conversation.Message `json:"messages"`
}

type auditResponse struct {
	Invocations []task.Invocation `json:"invocations"`
}

// listTasks handles GET /api/tasks. The optional completed=true|false
// query parameter filters by completion state.
func (h *queryHandler) listTasks(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity(w, r, h.logger)
	if !ok {
		return
	}

	var filter task.ListFilter
	switch r.URL.Query().Get("completed") {
	case "":
	case "true":
		v := true
		filter.Completed = &v
	case "false":
		v := false
		filter.Completed = &v
	default:
		writeError(w, http.StatusBadRequest, "invalid_filter", "completed must be true or false", h.logger)
		return
	}

	items, err := h.tasks.List(r.Context(), owner, filter)
	if err != nil {
		h.logger.Error("listing tasks", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list tasks", h.logger)
		return
	}
	if items == nil {
		items = []task.Item{}
	}
	writeJSON(w, http.StatusOK, tasksResponse{Tasks: items}, h.logger)
}

// history handles GET /api/conversation/history.
func (h *queryHandler) history(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity(w, r, h.logger)
	if !ok {
		return
	}

	messages, err := h.conversations.History(r.Context(), owner)
	if err != nil {
		h.logger.Error("loading history", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load history", h.logger)
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: messages}, h.logger)
}

// listInvocations handles GET /api/audit: the owner's tool-invocation
// trail, newest first. The optional limit parameter caps the page size.
func (h *queryHandler) listInvocations(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity(w, r, h.logger)
	if !ok {
		return
	}

	limit := int32(defaultAuditLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 200", h.logger)
			return
		}
		limit = int32(n)
	}

	invocations, err := h.audit.Invocations(r.Context(), owner, limit)
	if err != nil {
		h.logger.Error("listing invocations", "user_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list invocations", h.logger)
		return
	}
	if invocations == nil {
		invocations = []task.Invocation{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Invocations: invocations}, h.logger)
}
