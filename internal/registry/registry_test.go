package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/longregen/relay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func modelsHandler(t *testing.T, wantAuth string, ids ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if wantAuth != "" && r.Header.Get("Authorization") != wantAuth {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		data := make([]domain.Model, 0, len(ids))
		for _, id := range ids {
			data = append(data, domain.Model{ID: id, Object: "model", OwnedBy: "test"})
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}
}

func TestRegistry_RegisterAndPick(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "", "llama-3.2-3b"))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:   "server-1",
		URL:  srv.URL,
		Kind: []domain.Capability{domain.CapabilityChat},
	}

	if err := r.Register(context.Background(), server, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !server.Health.Healthy {
		t.Error("registered server should be marked healthy")
	}

	picked, err := r.Pick(domain.CapabilityChat)
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if picked.ID != "server-1" {
		t.Errorf("expected server-1, got %s", picked.ID)
	}
}

func TestRegistry_Pick_RoundRobin(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "", "m"))
	defer srv.Close()

	r := New(testLogger())
	for _, id := range []string{"a", "b"} {
		server := &domain.RegisteredServer{
			ID:   id,
			URL:  srv.URL,
			Kind: []domain.Capability{domain.CapabilityChat},
		}
		if err := r.Register(context.Background(), server, ""); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	var order []string
	for i := 0; i < 4; i++ {
		picked, err := r.Pick(domain.CapabilityChat)
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		order = append(order, picked.ID)
	}

	if order[0] == order[1] {
		t.Errorf("consecutive picks should alternate, got %v", order)
	}
	if order[0] != order[2] || order[1] != order[3] {
		t.Errorf("round-robin should cycle, got %v", order)
	}
}

func TestRegistry_Pick_NoServer(t *testing.T) {
	r := New(testLogger())

	_, err := r.Pick(domain.CapabilityEmbeddings)
	if !errors.Is(err, domain.ErrNoServerAvailable) {
		t.Errorf("expected ErrNoServerAvailable, got %v", err)
	}
}

func TestRegistry_Pick_SkipsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "", "m"))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:   "flaky",
		URL:  srv.URL,
		Kind: []domain.Capability{domain.CapabilityChat},
	}
	if err := r.Register(context.Background(), server, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	server.Health.Healthy = false
	_, err := r.Pick(domain.CapabilityChat)
	if !errors.Is(err, domain.ErrNoServerAvailable) {
		t.Errorf("expected ErrNoServerAvailable for unhealthy bucket, got %v", err)
	}
}

func TestRegistry_Register_ProbeFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:   "bad",
		URL:  srv.URL,
		Kind: []domain.Capability{domain.CapabilityChat},
	}

	err := r.Register(context.Background(), server, "")
	if err == nil {
		t.Fatal("expected probe failure")
	}
	if !errors.Is(err, domain.ErrOperation) {
		t.Errorf("expected ErrOperation, got %v", err)
	}
	if !strings.Contains(err.Error(), "Failed to get model info") {
		t.Errorf("unexpected error text: %v", err)
	}

	if _, err := r.Pick(domain.CapabilityChat); !errors.Is(err, domain.ErrNoServerAvailable) {
		t.Error("failed registration should not add the server")
	}
}

func TestRegistry_Register_SendsServerKey(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "Bearer sk-test", "m"))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:     "authed",
		URL:    srv.URL,
		APIKey: "sk-test",
		Kind:   []domain.Capability{domain.CapabilityChat},
	}

	if err := r.Register(context.Background(), server, "Bearer inbound-should-lose"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestRegistry_Register_FallsBackToInboundAuth(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "Bearer from-caller", "m"))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:   "keyless",
		URL:  srv.URL,
		Kind: []domain.Capability{domain.CapabilityChat},
	}

	if err := r.Register(context.Background(), server, "Bearer from-caller"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestRegistry_Register_ReplacesDuplicateID(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "", "first"))
	defer srv.Close()
	srv2 := httptest.NewServer(modelsHandler(t, "", "second"))
	defer srv2.Close()

	r := New(testLogger())
	old := &domain.RegisteredServer{ID: "dup", URL: srv.URL, Kind: []domain.Capability{domain.CapabilityChat}}
	if err := r.Register(context.Background(), old, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	updated := &domain.RegisteredServer{ID: "dup", URL: srv2.URL, Kind: []domain.Capability{domain.CapabilityChat}}
	if err := r.Register(context.Background(), updated, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if got := len(r.List()[domain.CapabilityChat]); got != 1 {
		t.Fatalf("duplicate id should replace, got %d servers", got)
	}
	models := r.Models()
	if len(models) != 1 || models[0].ID != "second" {
		t.Errorf("catalog should hold the replacement models, got %v", models)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	srv := httptest.NewServer(modelsHandler(t, "", "m"))
	defer srv.Close()

	r := New(testLogger())
	server := &domain.RegisteredServer{
		ID:   "gone",
		URL:  srv.URL,
		Kind: []domain.Capability{domain.CapabilityChat, domain.CapabilityEmbeddings},
	}
	if err := r.Register(context.Background(), server, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	r.Unregister("gone")

	if _, err := r.Pick(domain.CapabilityChat); !errors.Is(err, domain.ErrNoServerAvailable) {
		t.Error("chat bucket should be empty after unregister")
	}
	if _, err := r.Pick(domain.CapabilityEmbeddings); !errors.Is(err, domain.ErrNoServerAvailable) {
		t.Error("embeddings bucket should be empty after unregister")
	}
	if len(r.Models()) != 0 {
		t.Error("catalog entry should be dropped")
	}

	// Unknown id is a no-op.
	r.Unregister("never-existed")
}

func TestRegistry_Models_Aggregated(t *testing.T) {
	srvA := httptest.NewServer(modelsHandler(t, "", "zeta", "alpha"))
	defer srvA.Close()
	srvB := httptest.NewServer(modelsHandler(t, "", "mid"))
	defer srvB.Close()

	r := New(testLogger())
	for id, u := range map[string]string{"a": srvA.URL, "b": srvB.URL} {
		server := &domain.RegisteredServer{ID: id, URL: u, Kind: []domain.Capability{domain.CapabilityChat}}
		if err := r.Register(context.Background(), server, ""); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	models := r.Models()
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %d", len(models))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if models[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, models[i].ID)
		}
	}
}

func TestParseOpenRouterModels(t *testing.T) {
	body := strings.NewReader(`{"data":[{"id":"meta/llama-3-70b","created":1715644800}]}`)
	models, err := parseOpenRouterModels(body, "https://openrouter.ai/api/v1/models")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].OwnedBy != "openrouter.ai" {
		t.Errorf("expected owned_by openrouter.ai, got %s", models[0].OwnedBy)
	}
	if models[0].Object != "model" {
		t.Errorf("expected object model, got %s", models[0].Object)
	}
}

func TestParseOpenRouterModels_MissingData(t *testing.T) {
	body := strings.NewReader(`{"models":[]}`)
	_, err := parseOpenRouterModels(body, "https://openrouter.ai/api/v1/models")
	if err == nil {
		t.Fatal("expected error for missing data field")
	}
	if !strings.Contains(err.Error(), "data") {
		t.Errorf("error should mention the data field: %v", err)
	}
}
