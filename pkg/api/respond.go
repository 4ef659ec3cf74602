// Package api holds the HTTP surface: the /verify handler, health probes,
// request middleware and the JSON error helpers every handler shares.
//
// Error bodies are always {"error": "<message>"}.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, msg)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, msg string) {
	if msg == "" {
		msg = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, msg)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusNotFound, msg)
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusConflict, msg)
}

// WriteTooManyRequests writes a 429 error response with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
}

// WriteInternal writes a 500 with a generic message. err is logged, never
// sent to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if msg == "" {
		msg = "Internal server error"
	}
	slog.ErrorContext(r.Context(), "internal server error",
		"path", r.URL.Path,
		"request_id", w.Header().Get(RequestIDHeader),
		"error", err,
	)
	WriteError(w, http.StatusInternalServerError, msg)
}
