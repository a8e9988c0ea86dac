// Package registry tracks downstream OpenAI-compatible servers and their
// advertised models, and picks servers round-robin per capability.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/metrics"
	"github.com/longregen/relay/pkg/otel"
)

// openRouterBase is the one hosted vendor whose models endpoint does not
// follow the OpenAI list shape.
const openRouterBase = "https://openrouter.ai/api/v1"

type Registry struct {
	mu      sync.RWMutex
	byKind  map[domain.Capability][]*domain.RegisteredServer
	next    map[domain.Capability]*atomic.Uint64
	catalog map[string][]domain.Model

	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	r := &Registry{
		byKind:  make(map[domain.Capability][]*domain.RegisteredServer),
		next:    make(map[domain.Capability]*atomic.Uint64),
		catalog: make(map[string][]domain.Model),
		client: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otel.NewPropagatingTransport(nil),
		},
		logger: logger,
	}
	for _, kind := range domain.AllCapabilities {
		r.next[kind] = &atomic.Uint64{}
	}
	return r
}

// Register probes the server's models endpoint, refreshes the catalog and
// adds the server to every capability bucket it declares. Re-registering an
// existing id replaces the old registration. inboundAuth is the caller's
// Authorization header, used for the probe when the server has no key.
func (r *Registry) Register(ctx context.Context, server *domain.RegisteredServer, inboundAuth string) error {
	models, err := r.fetchModels(ctx, server, inboundAuth)
	if err != nil {
		return err
	}

	server.Health.Healthy = true
	server.Health.LastCheck = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(server.ID)
	r.catalog[server.ID] = models
	for _, kind := range server.Kind {
		r.byKind[kind] = append(r.byKind[kind], server)
	}
	metrics.ServersRegistered.Set(float64(len(r.catalog)))

	r.logger.Info("registered downstream server",
		"server_id", server.ID, "url", server.URL, "kind", server.Kind, "models", len(models))
	return nil
}

// Unregister removes the server from every capability bucket and drops its
// catalog entry. Silently succeeds when the id is unknown.
func (r *Registry) Unregister(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(serverID)
	delete(r.catalog, serverID)
	metrics.ServersRegistered.Set(float64(len(r.catalog)))

	r.logger.Info("unregistered downstream server", "server_id", serverID)
}

func (r *Registry) removeLocked(serverID string) {
	for kind, servers := range r.byKind {
		filtered := servers[:0]
		for _, s := range servers {
			if s.ID != serverID {
				filtered = append(filtered, s)
			}
		}
		r.byKind[kind] = filtered
	}
}

// Pick returns the next healthy server carrying kind, round-robin.
func (r *Registry) Pick(kind domain.Capability) (*domain.RegisteredServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var healthy []*domain.RegisteredServer
	for _, s := range r.byKind[kind] {
		if s.Health.Healthy {
			healthy = append(healthy, s)
		}
	}
	if len(healthy) == 0 {
		return nil, domain.ErrNoServerAvailable
	}

	n := r.next[kind].Add(1)
	return healthy[(n-1)%uint64(len(healthy))], nil
}

// List returns a snapshot of the registry keyed by capability.
func (r *Registry) List() map[domain.Capability][]*domain.RegisteredServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.Capability][]*domain.RegisteredServer, len(r.byKind))
	for kind, servers := range r.byKind {
		if len(servers) == 0 {
			continue
		}
		out[kind] = append([]*domain.RegisteredServer(nil), servers...)
	}
	return out
}

// Models returns the aggregated model catalog across all registered servers,
// sorted by id for stable output.
func (r *Registry) Models() []domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Model
	for _, models := range r.catalog {
		all = append(all, models...)
	}
	slices.SortFunc(all, func(a, b domain.Model) int {
		return strings.Compare(a.ID, b.ID)
	})
	return all
}

// ModelsByServer returns the catalog keyed by server id.
func (r *Registry) ModelsByServer() map[string][]domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]domain.Model, len(r.catalog))
	for id, models := range r.catalog {
		out[id] = append([]domain.Model(nil), models...)
	}
	return out
}

func (r *Registry) fetchModels(ctx context.Context, server *domain.RegisteredServer, inboundAuth string) ([]domain.Model, error) {
	url := server.URL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Operationf("Failed to get the models from the downstream server: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case server.BearerToken() != "":
		req.Header.Set("Authorization", server.BearerToken())
	case inboundAuth != "":
		req.Header.Set("Authorization", inboundAuth)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domain.Operationf("Failed to get the models from the downstream server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Operationf("Status: %s. Failed to get model info from %s.", resp.Status, url)
	}

	if server.URL == openRouterBase {
		return parseOpenRouterModels(resp.Body, url)
	}
	return parseOpenAIModels(resp.Body, url)
}

func parseOpenAIModels(body io.Reader, url string) ([]domain.Model, error) {
	var list struct {
		Object string         `json:"object"`
		Data   []domain.Model `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&list); err != nil {
		return nil, domain.Operationf("Failed to get the models from %s: %v", url, err)
	}
	return list.Data, nil
}

func parseOpenRouterModels(body io.Reader, url string) ([]domain.Model, error) {
	var payload struct {
		Data []struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, domain.Operationf("Failed to get the models from %s: %v", url, err)
	}
	if payload.Data == nil {
		return nil, domain.Operationf("Failed to get the models from %s. Not found `data` field in the response.", url)
	}

	models := make([]domain.Model, 0, len(payload.Data))
	for _, m := range payload.Data {
		models = append(models, domain.Model{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: "openrouter.ai",
		})
	}
	return models, nil
}
