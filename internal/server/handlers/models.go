package handlers

import (
	"net/http"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/registry"
)

type ModelsHandler struct {
	registry *registry.Registry
}

func NewModelsHandler(reg *registry.Registry) *ModelsHandler {
	return &ModelsHandler{registry: reg}
}

// Models handles GET /v1/models: the aggregated catalog in the OpenAI list
// shape.
func (h *ModelsHandler) Models(w http.ResponseWriter, r *http.Request) {
	models := h.registry.Models()
	if models == nil {
		models = []domain.Model{}
	}
	respondJSON(w, map[string]any{
		"object": "list",
		"data":   models,
	}, http.StatusOK)
}

// Info handles GET /info: the catalog grouped by capability. Every group is
// present even when empty.
func (h *ModelsHandler) Info(w http.ResponseWriter, r *http.Request) {
	groups := map[string][]domain.Model{
		"chat":       {},
		"embedding":  {},
		"image":      {},
		"tts":        {},
		"translate":  {},
		"transcribe": {},
	}

	catalog := h.registry.ModelsByServer()
	for kind, servers := range h.registry.List() {
		key := infoKey(kind)
		for _, srv := range servers {
			groups[key] = append(groups[key], catalog[srv.ID]...)
		}
	}

	respondJSON(w, map[string]any{"models": groups}, http.StatusOK)
}

// infoKey maps capabilities to the /info group names, which use the
// singular "embedding".
func infoKey(kind domain.Capability) string {
	if kind == domain.CapabilityEmbeddings {
		return "embedding"
	}
	return string(kind)
}
