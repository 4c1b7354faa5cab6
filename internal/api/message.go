package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tasktalk/tasktalk/internal/log"
)

// MaxMessageRunes bounds user input before the orchestrator sees it.
const MaxMessageRunes = 4000

type messageHandler struct {
	orchestrator Orchestrator
	logger       log.Logger
}

type messageRequest struct {
	Text string `json:"text"`
}

// send handles POST /api/conversation/message. Input shape is validated
// here, before any storage access; domain failures come back inside the
// turn reply with HTTP 200 so callers always get {reply, tool_calls}.
func (h *messageHandler) send(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity(w, r, h.logger)
	if !ok {
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON with a text field", h.logger)
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "empty_text", "text must not be empty", h.logger)
		return
	}
	if len([]rune(text)) > MaxMessageRunes {
		writeError(w, http.StatusBadRequest, "text_too_long", "text exceeds the maximum message length", h.logger)
		return
	}

	reply := h.orchestrator.Handle(r.Context(), owner, text)
	writeJSON(w, http.StatusOK, reply, h.logger)
}
