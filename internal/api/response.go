package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"travel-booking/internal/apperror"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to its status code. Only the client-safe message is
// written; the cause stays in the logs.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := apperror.StatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, Response{Success: false, Message: apperror.Message(err)})
}
