// Package handlers implements the gateway's HTTP endpoints on top of the
// orchestrators, the downstream registry and the conversation memory.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/longregen/relay/internal/domain"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func SetRequestIDInContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// errorStatus maps domain error kinds to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadRequest),
		errors.Is(err, domain.ErrEmptyMessages),
		errors.Is(err, domain.ErrNoUserMessage),
		errors.Is(err, domain.ErrMissingUserID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error as {"error": message}. Cancelled
// requests get nothing: the client is gone.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrCancelled) {
		return
	}
	respondError(w, err.Error(), errorStatus(err))
}

func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

// NotEnabled is mounted on routes whose backing subsystem is not configured.
func NotEnabled(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondError(w, message, http.StatusServiceUnavailable)
	}
}
