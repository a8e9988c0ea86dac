package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/longregen/relay/internal/chat"
	"github.com/longregen/relay/internal/llm"
	"github.com/longregen/relay/internal/memory"
	"github.com/longregen/relay/internal/proxy"
	"github.com/longregen/relay/internal/registry"
	"github.com/longregen/relay/internal/responses"
	"github.com/longregen/relay/internal/retrieval"
	"github.com/longregen/relay/internal/server"
	"github.com/longregen/relay/internal/store"
	"github.com/longregen/relay/internal/tools"
)

// serveCmd starts the gateway
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay gateway",
		Long: `Start the OpenAI-compatible relay gateway.

The gateway routes requests across registered downstream model servers,
orchestrates chat turns and exposes admin endpoints for the server
registry.

Optional configuration:
  - Conversation memory in PostgreSQL (RELAY_MEMORY_ENABLED, RELAY_DATABASE_URL)
  - MCP tool servers for retrieval and ReAct tool use (tool_servers)
  - Downstream servers registered at startup (downstream_servers)
  - OTLP export (RELAY_OTLP_ENDPOINT)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer wires the subsystems and runs the HTTP server until a signal
// arrives or the listener fails.
func runServer(ctx context.Context) error {
	logger, otelShutdown := newLogger()
	slog.SetDefault(logger)
	if otelShutdown != nil {
		defer func() {
			if err := otelShutdown(context.Background()); err != nil {
				logger.Error("failed to shut down OpenTelemetry", "error", err)
			}
		}()
	}

	logger.Info("starting relay gateway",
		"addr", cfg.ListenAddr(),
		"mode", cfg.Chat.Mode,
		"rag", cfg.RAG.Enabled,
		"memory", cfg.Memory.Enabled)

	// Conversation store, when memory is configured.
	var (
		st     *store.Store
		dbPing func(ctx context.Context) error
	)
	if cfg.Memory.Enabled {
		pool, err := openPool(ctx, cfg.Memory.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		st = store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to apply database schema: %w", err)
		}
		dbPing = pool.Ping
		logger.Info("conversation store ready")
	}

	reg := registry.New(logger)
	forwarder := proxy.New(logger)
	router := llm.NewRouter(reg)

	// MCP tool servers. Connection failures are logged, not fatal; the
	// affected retrieval modality degrades and tool dispatch reports the
	// missing server per call.
	pool := tools.NewPool(logger)
	defer pool.Close()
	for _, tc := range cfg.ToolServers {
		if err := pool.Connect(ctx, tc); err != nil {
			logger.Warn("tool server connection failed", "server", tc.Name, "error", err)
		}
	}

	var augmenter chat.Augmenter
	if cfg.RAG.Enabled {
		augmenter = retrieval.NewEngine(pool, router, cfg.RAG, logger)
		logger.Info("retrieval engine ready", "policy", cfg.RAG.Policy)
	}

	var (
		mem     *memory.Manager
		orcMem  chat.Memory
		respAPI *responses.Handler
	)
	if st != nil {
		var summarizer memory.Summarizer
		if cfg.Memory.SummaryModel != "" {
			summarizer = memory.NewLLMSummarizer(router, cfg.Memory.SummaryModel)
		} else {
			summarizer = memory.LocalSummarizer{}
		}
		mem = memory.NewManager(st, summarizer, cfg.Memory, logger)
		orcMem = mem
		respAPI = responses.NewHandler(st, reg, forwarder, logger)
		logger.Info("memory manager ready",
			"auto_summarize", cfg.Memory.AutoSummarize,
			"summary_model", cfg.Memory.SummaryModel)
	}

	orc := chat.NewOrchestrator(reg, forwarder, pool, orcMem, augmenter, cfg.Chat, logger)

	seedDownstream(ctx, reg, logger)

	srv := server.New(cfg, orc, reg, forwarder, mem, respAPI, dbPing, logger)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		serverErrors <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}

// openPool connects to PostgreSQL with query tracing and a UTC session
// timezone; the store compares TIMESTAMP columns in UTC.
func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	poolConfig.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}
