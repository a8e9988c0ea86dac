// Package server wires the gateway's HTTP surface: an OpenAI-compatible
// front for chat, embeddings, audio and images, plus conversation history,
// the Responses API and the admin registry endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/relay/internal/chat"
	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/memory"
	"github.com/longregen/relay/internal/proxy"
	"github.com/longregen/relay/internal/registry"
	"github.com/longregen/relay/internal/responses"
	"github.com/longregen/relay/internal/server/handlers"
	"github.com/longregen/relay/pkg/otel"
)

const readTimeout = 30 * time.Second

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// New assembles the router. mem, resp and dbPing may be nil when the
// gateway runs without a database; the affected routes answer 503.
func New(
	cfg *config.Config,
	orc *chat.Orchestrator,
	reg *registry.Registry,
	forwarder *proxy.Forwarder,
	mem *memory.Manager,
	resp *responses.Handler,
	dbPing func(ctx context.Context) error,
	logger *slog.Logger,
) *Server {
	router := chi.NewRouter()

	router.Use(RequestID)
	router.Use(otel.Middleware("relay"))
	router.Use(Recovery)
	router.Use(Logger)
	router.Use(Metrics)
	router.Use(CORS(cfg.Server.CORSOrigins))

	chatH := handlers.NewChatHandler(orc, logger)
	passH := handlers.NewPassthroughHandler(reg, forwarder, logger)
	modelsH := handlers.NewModelsHandler(reg)
	adminH := handlers.NewAdminHandler(reg, logger)
	healthH := handlers.NewHealthHandler(dbPing)

	var history handlers.History
	if mem != nil {
		history = mem
	}
	historyH := handlers.NewHistoryHandler(history, logger)

	router.Get("/health", healthH.Health)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/info", modelsH.Info)

	router.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", chatH.Completions)
		r.Post("/embeddings", passH.Embeddings)
		r.Post("/audio/transcriptions", passH.Transcriptions)
		r.Post("/audio/translations", passH.Translations)
		r.Post("/audio/speech", passH.Speech)
		r.Post("/images/generations", passH.Images)
		r.Get("/models", modelsH.Models)

		r.Get("/conversations/{conv_id}", historyH.Conversation)
		r.Get("/users/{user_id}/history", historyH.UserHistory)
		r.Get("/users/{user_id}/conversations", historyH.UserConversations)

		if resp != nil {
			r.Post("/responses", resp.Create)
		} else {
			r.Post("/responses", handlers.NotEnabled("Responses API requires the conversation database"))
		}
	})

	router.Route("/admin/servers", func(r chi.Router) {
		r.Post("/register", adminH.Register)
		r.Post("/unregister", adminH.Unregister)
		r.Get("/", adminH.List)
	})

	return &Server{cfg: cfg, router: router}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: 0,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
