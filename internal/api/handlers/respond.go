package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{ErrorCode: code, Message: message, Details: details})
}

func respondBadRequest(w http.ResponseWriter, message string, details any) {
	respondWithError(w, http.StatusBadRequest, "bad_request", message, details)
}

func respondUnprocessable(w http.ResponseWriter, message string, details any) {
	respondWithError(w, http.StatusUnprocessableEntity, "validation_error", message, details)
}

func respondInternal(w http.ResponseWriter, message string) {
	respondWithError(w, http.StatusInternalServerError, "internal_error", message, nil)
}
