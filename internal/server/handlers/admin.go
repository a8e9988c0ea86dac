package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/id"
)

// Registrar is the slice of the registry the admin endpoints mutate.
// *registry.Registry satisfies it.
type Registrar interface {
	Register(ctx context.Context, server *domain.RegisteredServer, inboundAuth string) error
	Unregister(serverID string)
	List() map[domain.Capability][]*domain.RegisteredServer
}

type AdminHandler struct {
	registry Registrar
	logger   *slog.Logger
}

func NewAdminHandler(reg Registrar, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{registry: reg, logger: logger}
}

// Register handles POST /admin/servers/register. The server's models
// endpoint is probed before it is admitted; a missing id gets one assigned.
func (h *AdminHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string   `json:"id"`
		URL    string   `json:"url"`
		APIKey string   `json:"api_key"`
		Kind   []string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Sprintf("Failed to parse the server registration request: %s", err), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		respondError(w, "Server url is required", http.StatusBadRequest)
		return
	}
	if len(req.Kind) == 0 {
		respondError(w, "Server kind is required", http.StatusBadRequest)
		return
	}

	kinds := make([]domain.Capability, 0, len(req.Kind))
	for _, k := range req.Kind {
		kind, ok := domain.ParseCapability(k)
		if !ok {
			respondError(w, fmt.Sprintf("Invalid server kind: %s", k), http.StatusBadRequest)
			return
		}
		kinds = append(kinds, kind)
	}
	if req.ID == "" {
		req.ID = id.NewServer()
	}

	server := &domain.RegisteredServer{
		ID:     req.ID,
		URL:    strings.TrimSuffix(req.URL, "/"),
		APIKey: req.APIKey,
		Kind:   kinds,
	}
	if err := h.registry.Register(r.Context(), server, r.Header.Get("Authorization")); err != nil {
		h.logger.Error("failed to register downstream server",
			"server_id", server.ID, "url", server.URL, "error", err)
		writeError(w, err)
		return
	}

	respondJSON(w, map[string]any{
		"id":   server.ID,
		"url":  server.URL,
		"kind": server.Kind,
	}, http.StatusOK)
}

// Unregister handles POST /admin/servers/unregister.
func (h *AdminHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerID string `json:"server_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Sprintf("Failed to parse the server removal request: %s", err), http.StatusBadRequest)
		return
	}
	if req.ServerID == "" {
		respondError(w, "server_id is required", http.StatusBadRequest)
		return
	}

	h.registry.Unregister(req.ServerID)

	respondJSON(w, map[string]any{
		"message": "Server unregistered successfully.",
		"id":      req.ServerID,
	}, http.StatusOK)
}

// List handles GET /admin/servers: the registry snapshot keyed by
// capability.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.registry.List(), http.StatusOK)
}
