package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/relay/internal/chat"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/proxy"
	"github.com/longregen/relay/internal/registry"
)

var testLogger = slog.New(slog.DiscardHandler)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v\n%s", err, rec.Body.String())
	}
	return body
}

type fakeCompleter struct {
	res *chat.Result
	err error
	req *domain.ChatRequest
}

func (f *fakeCompleter) Completion(_ context.Context, req *domain.ChatRequest, _ http.Header) (*chat.Result, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func TestChatCompletionsBuffered(t *testing.T) {
	orc := &fakeCompleter{res: &chat.Result{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"id":"chatcmpl-1"}`),
	}}
	h := NewChatHandler(orc, testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"Hi"}]}`))
	rec := httptest.NewRecorder()
	h.Completions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if rec.Body.String() != `{"id":"chatcmpl-1"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if orc.req == nil || orc.req.Model != "gpt-test" {
		t.Errorf("orchestrator got %+v", orc.req)
	}
}

func TestChatCompletionsSSE(t *testing.T) {
	frames := []string{"data: {\"id\":\"chatcmpl-1\"}\n\n", "data: [DONE]\n\n"}
	h := NewChatHandler(&fakeCompleter{res: &chat.Result{SSE: true, Frames: frames}}, testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-test","messages":[{"role":"user","content":"Hi"}],"stream":true}`))
	rec := httptest.NewRecorder()
	h.Completions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("cache control = %q", got)
	}
	if rec.Body.String() != strings.Join(frames, "") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Error("SSE frames must be flushed")
	}
}

func TestChatCompletionsErrors(t *testing.T) {
	t.Run("malformed request", func(t *testing.T) {
		h := NewChatHandler(&fakeCompleter{}, testLogger)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		h.Completions(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if !strings.HasPrefix(body["error"].(string), "Failed to parse the chat completion request") {
			t.Errorf("error = %q", body["error"])
		}
	})

	t.Run("bad request maps to 400", func(t *testing.T) {
		h := NewChatHandler(&fakeCompleter{err: domain.NewDomainError(domain.ErrEmptyMessages, "Messages cannot be empty")}, testLogger)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
		rec := httptest.NewRecorder()
		h.Completions(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decodeBody(t, rec); body["error"] != "Messages cannot be empty" {
			t.Errorf("error = %q", body["error"])
		}
	})

	t.Run("operation maps to 500", func(t *testing.T) {
		h := NewChatHandler(&fakeCompleter{err: domain.Operationf("downstream broke")}, testLogger)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
		rec := httptest.NewRecorder()
		h.Completions(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("cancelled writes nothing", func(t *testing.T) {
		h := NewChatHandler(&fakeCompleter{err: domain.NewDomainError(domain.ErrCancelled, "Request was cancelled by client")}, testLogger)
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
		rec := httptest.NewRecorder()
		h.Completions(rec, req)

		if rec.Body.Len() != 0 {
			t.Errorf("cancelled request wrote a body: %s", rec.Body.String())
		}
	})
}

type fakePicker struct {
	srv *domain.RegisteredServer
	err error
}

func (p *fakePicker) Pick(domain.Capability) (*domain.RegisteredServer, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.srv, nil
}

func TestPassthroughNoServer(t *testing.T) {
	h := NewPassthroughHandler(&fakePicker{err: domain.ErrNoServerAvailable}, proxy.New(testLogger), testLogger)

	cases := []struct {
		name    string
		call    http.HandlerFunc
		message string
	}{
		{"embeddings", h.Embeddings, "No embedding server available. Please register a embedding server via the `/admin/servers/register` endpoint."},
		{"transcriptions", h.Transcriptions, "No transcribe server available"},
		{"translations", h.Translations, "No translate server available"},
		{"speech", h.Speech, "No tts server available"},
		{"images", h.Images, "No image server available"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/any", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			c.call(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d", rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != c.message {
				t.Errorf("error = %q, want %q", body["error"], c.message)
			}
		})
	}
}

func TestPassthroughRelay(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("downstream path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("downstream content type = %q", ct)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("downstream body: %v", err)
		}
		if req["input"] != "hello" {
			t.Errorf("downstream input = %v", req["input"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Internal-Secret", "drop-me")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer ts.Close()

	picker := &fakePicker{srv: &domain.RegisteredServer{
		ID:   "srv_embed",
		URL:  ts.URL,
		Kind: []domain.Capability{domain.CapabilityEmbeddings},
	}}
	h := NewPassthroughHandler(picker, proxy.New(testLogger), testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"input":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Embeddings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"object":"list","data":[]}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("X-Internal-Secret") != "" {
		t.Error("internal downstream headers must be filtered out")
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestPassthroughDownstreamStatusPreserved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer ts.Close()

	picker := &fakePicker{srv: &domain.RegisteredServer{ID: "srv_img", URL: ts.URL}}
	h := NewPassthroughHandler(picker, proxy.New(testLogger), testLogger)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Images(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rate limited") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// modelsDownstream serves the models probe used by registration.
func modelsDownstream(t *testing.T, ids ...string) *httptest.Server {
	t.Helper()
	models := make([]domain.Model, 0, len(ids))
	for _, id := range ids {
		models = append(models, domain.Model{ID: id, Object: "model", OwnedBy: "test"})
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("probe path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": models})
	}))
}

func registerServer(t *testing.T, reg *registry.Registry, id, url string, kinds ...domain.Capability) {
	t.Helper()
	err := reg.Register(context.Background(), &domain.RegisteredServer{ID: id, URL: url, Kind: kinds}, "")
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestModelsEndpoint(t *testing.T) {
	ts := modelsDownstream(t, "gpt-test", "gpt-mini")
	defer ts.Close()

	reg := registry.New(testLogger)
	registerServer(t, reg, "srv_1", ts.URL, domain.CapabilityChat)

	h := NewModelsHandler(reg)
	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Object string         `json:"object"`
		Data   []domain.Model `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Object != "list" {
		t.Errorf("object = %q", body.Object)
	}
	if len(body.Data) != 2 || body.Data[0].ID != "gpt-mini" || body.Data[1].ID != "gpt-test" {
		t.Errorf("models not sorted by id: %+v", body.Data)
	}
}

func TestModelsEndpointEmpty(t *testing.T) {
	h := NewModelsHandler(registry.New(testLogger))
	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("empty catalog must serialize as [], got %s", rec.Body.String())
	}
}

func TestInfoGroupsByCapability(t *testing.T) {
	ts := modelsDownstream(t, "all-model")
	defer ts.Close()

	reg := registry.New(testLogger)
	registerServer(t, reg, "srv_multi", ts.URL, domain.CapabilityChat, domain.CapabilityEmbeddings)

	h := NewModelsHandler(reg)
	rec := httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodGet, "/info", nil))

	var body struct {
		Models map[string][]domain.Model `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}

	for _, group := range []string{"chat", "embedding", "image", "tts", "translate", "transcribe"} {
		if _, ok := body.Models[group]; !ok {
			t.Errorf("group %q missing from /info", group)
		}
	}
	if len(body.Models["chat"]) != 1 || body.Models["chat"][0].ID != "all-model" {
		t.Errorf("chat group = %+v", body.Models["chat"])
	}
	if len(body.Models["embedding"]) != 1 {
		t.Errorf("embedding group = %+v", body.Models["embedding"])
	}
	if len(body.Models["image"]) != 0 {
		t.Errorf("image group should be empty, got %+v", body.Models["image"])
	}
}

type fakeHistory struct {
	messages      []*domain.Message
	conversations []*domain.ConversationSummary
	err           error
	limit         int
}

func (f *fakeHistory) GetFullHistory(_ context.Context, _ string, _ bool) ([]*domain.Message, error) {
	return f.messages, f.err
}

func (f *fakeHistory) GetUserFullHistory(_ context.Context, _ string, _ bool) ([]*domain.Message, error) {
	return f.messages, f.err
}

func (f *fakeHistory) ListUserConversations(_ context.Context, _ string, limit int) ([]*domain.ConversationSummary, error) {
	f.limit = limit
	return f.conversations, f.err
}

func historyRouter(h *HistoryHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/v1/conversations/{conv_id}", h.Conversation)
	r.Get("/v1/users/{user_id}/history", h.UserHistory)
	r.Get("/v1/users/{user_id}/conversations", h.UserConversations)
	return r
}

func TestHistoryMemoryDisabled(t *testing.T) {
	router := historyRouter(NewHistoryHandler(nil, testLogger))

	for _, path := range []string{
		"/v1/conversations/conv-1",
		"/v1/users/alice/history",
		"/v1/users/alice/conversations",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want 503", path, rec.Code)
		}
		if body := decodeBody(t, rec); body["error"] != "Memory system is not enabled" {
			t.Errorf("%s: error = %q", path, body["error"])
		}
	}
}

func TestConversationHistory(t *testing.T) {
	mem := &fakeHistory{messages: []*domain.Message{
		{ID: "m1", Role: domain.RoleSystem, Content: "Be terse."},
		{ID: "m2", Role: domain.RoleUser, Content: "Hi"},
	}}
	router := historyRouter(NewHistoryHandler(mem, testLogger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations/conv-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v", body["conversation_id"])
	}
	if msgs := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
}

func TestConversationHistoryNotFound(t *testing.T) {
	mem := &fakeHistory{err: errors.New("no such conversation")}
	router := historyRouter(NewHistoryHandler(mem, testLogger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/conversations/conv-x", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Conversation not found: no such conversation" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestUserHistoryEmpty(t *testing.T) {
	router := historyRouter(NewHistoryHandler(&fakeHistory{}, testLogger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/alice/history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("nil history must serialize as [], got %s", rec.Body.String())
	}
}

func TestUserConversations(t *testing.T) {
	now := time.Now().UTC()
	mem := &fakeHistory{conversations: []*domain.ConversationSummary{
		{ID: "conv-1", ModelName: "gpt-test", MessageCount: 4, CreatedAt: now, UpdatedAt: now},
	}}
	router := historyRouter(NewHistoryHandler(mem, testLogger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/alice/conversations?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["user_id"] != "alice" {
		t.Errorf("user_id = %v", body["user_id"])
	}
	if body["total"] != float64(1) {
		t.Errorf("total = %v", body["total"])
	}
	if mem.limit != 5 {
		t.Errorf("limit = %d, want 5", mem.limit)
	}
}

func TestAdminRegisterValidation(t *testing.T) {
	h := NewAdminHandler(registry.New(testLogger), testLogger)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing url", `{"kind":["chat"]}`, "Server url is required"},
		{"missing kind", `{"url":"http://localhost:9000"}`, "Server kind is required"},
		{"invalid kind", `{"url":"http://localhost:9000","kind":["quantum"]}`, "Invalid server kind: quantum"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/servers/register", strings.NewReader(c.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != c.want {
				t.Errorf("error = %q, want %q", body["error"], c.want)
			}
		})
	}
}

func TestAdminRegister(t *testing.T) {
	ts := modelsDownstream(t, "gpt-test")
	defer ts.Close()

	reg := registry.New(testLogger)
	h := NewAdminHandler(reg, testLogger)

	req := httptest.NewRequest(http.MethodPost, "/admin/servers/register",
		strings.NewReader(`{"url":"`+ts.URL+`/","kind":["chat","embeddings"]}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	id, _ := body["id"].(string)
	if !strings.HasPrefix(id, "srv_") {
		t.Errorf("assigned id = %q", id)
	}
	if body["url"] != ts.URL {
		t.Errorf("url = %v, want %s with the trailing slash trimmed", body["url"], ts.URL)
	}

	if _, err := reg.Pick(domain.CapabilityChat); err != nil {
		t.Errorf("registered server not pickable: %v", err)
	}
	if _, err := reg.Pick(domain.CapabilityEmbeddings); err != nil {
		t.Errorf("registered server missing embeddings capability: %v", err)
	}
}

func TestAdminRegisterProbeFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	h := NewAdminHandler(registry.New(testLogger), testLogger)

	req := httptest.NewRequest(http.MethodPost, "/admin/servers/register",
		strings.NewReader(`{"url":"`+ts.URL+`","kind":["chat"]}`))
	rec := httptest.NewRecorder()
	h.Register(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Failed to get model info") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAdminUnregister(t *testing.T) {
	ts := modelsDownstream(t, "gpt-test")
	defer ts.Close()

	reg := registry.New(testLogger)
	registerServer(t, reg, "srv_gone", ts.URL, domain.CapabilityChat)
	h := NewAdminHandler(reg, testLogger)

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/servers/unregister", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		h.Unregister(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if body := decodeBody(t, rec); body["error"] != "server_id is required" {
			t.Errorf("error = %q", body["error"])
		}
	})

	t.Run("removes the server", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/servers/unregister",
			strings.NewReader(`{"server_id":"srv_gone"}`))
		rec := httptest.NewRecorder()
		h.Unregister(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["message"] != "Server unregistered successfully." || body["id"] != "srv_gone" {
			t.Errorf("body = %v", body)
		}
		if _, err := reg.Pick(domain.CapabilityChat); !errors.Is(err, domain.ErrNoServerAvailable) {
			t.Errorf("server still pickable after unregister: %v", err)
		}
	})
}

func TestAdminList(t *testing.T) {
	ts := modelsDownstream(t, "gpt-test")
	defer ts.Close()

	reg := registry.New(testLogger)
	registerServer(t, reg, "srv_1", ts.URL, domain.CapabilityChat)
	h := NewAdminHandler(reg, testLogger)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/admin/servers/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]*domain.RegisteredServer
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["chat"]) != 1 || body["chat"][0].ID != "srv_1" {
		t.Errorf("list = %v", body)
	}
}

func TestHealth(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		h := NewHealthHandler(nil)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "ok" {
			t.Errorf("status field = %v", body["status"])
		}
		if _, ok := body["database"]; ok {
			t.Error("database field should be absent without a pool")
		}
	})

	t.Run("database reachable", func(t *testing.T) {
		h := NewHealthHandler(func(context.Context) error { return nil })
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if body := decodeBody(t, rec); body["database"] != "ok" {
			t.Errorf("database field = %v", body["database"])
		}
	})

	t.Run("database down", func(t *testing.T) {
		h := NewHealthHandler(func(context.Context) error { return errors.New("dial refused") })
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "degraded" || body["database"] != "unreachable" {
			t.Errorf("body = %v", body)
		}
	})
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrBadRequest, http.StatusBadRequest},
		{domain.ErrEmptyMessages, http.StatusBadRequest},
		{domain.ErrNoUserMessage, http.StatusBadRequest},
		{domain.ErrMissingUserID, http.StatusBadRequest},
		{domain.ErrConversationNotFound, http.StatusNotFound},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrNoServerAvailable, http.StatusInternalServerError},
		{domain.ErrOperation, http.StatusInternalServerError},
		{domain.ErrToolNotFound, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := errorStatus(c.err); got != c.want {
			t.Errorf("errorStatus(%v) = %d, want %d", c.err, got, c.want)
		}
		wrapped := domain.NewDomainError(c.err, "wrapped")
		if got := errorStatus(wrapped); got != c.want {
			t.Errorf("errorStatus(wrapped %v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=7&bad=oops", nil)
	if got := parseIntQuery(req, "limit", 0); got != 7 {
		t.Errorf("limit = %d", got)
	}
	if got := parseIntQuery(req, "bad", 3); got != 3 {
		t.Errorf("bad = %d, want default", got)
	}
	if got := parseIntQuery(req, "absent", 9); got != 9 {
		t.Errorf("absent = %d, want default", got)
	}
}

func TestNotEnabled(t *testing.T) {
	h := NotEnabled("Responses API requires the conversation database")
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/responses", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Responses API requires the conversation database" {
		t.Errorf("error = %q", body["error"])
	}
}
