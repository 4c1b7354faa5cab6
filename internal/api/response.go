package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tasktalk/tasktalk/internal/log"
)

// errorBody is the envelope for transport-level failures. Domain-level
// failures ride inside the normal turn reply instead.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON encodes to a buffer first so headers are only sent after a
// successful encode and a real 500 can still be returned on failure.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are routine.
		logger.Debug("writing response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}}, logger)
}
