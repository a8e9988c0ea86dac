package handlers

import (
	"context"
	"net/http"
)

// HealthHandler reports liveness. DBPing is nil when the gateway runs
// without a database.
type HealthHandler struct {
	dbPing func(ctx context.Context) error
}

func NewHealthHandler(dbPing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{dbPing: dbPing}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.dbPing != nil {
		if err := h.dbPing(r.Context()); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			respondJSON(w, body, http.StatusServiceUnavailable)
			return
		}
		body["database"] = "ok"
	}
	respondJSON(w, body, http.StatusOK)
}
