// Package retrieval runs the two-modality context search for augmented chat
// requests: vector search over a qdrant-style MCP server and model-driven
// keyword search, fused into one ranked context block that is merged into
// the request before it reaches the chat model.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/metrics"
	"github.com/longregen/relay/pkg/otel"
)

// ToolPool is the slice of the MCP tool pool the engine searches through.
// *tools.Pool satisfies it.
type ToolPool interface {
	ServerTools(name string) ([]*mcp.Tool, bool)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error)
}

// LLM reaches the downstream model servers for keyword extraction and query
// embeddings. *llm.Router satisfies it.
type LLM interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error)
}

// Engine runs the retrieval pipeline.
type Engine struct {
	pool   ToolPool
	llm    LLM
	cfg    config.RAGConfig
	logger *slog.Logger
}

func NewEngine(pool ToolPool, llm LLM, cfg config.RAGConfig, logger *slog.Logger) *Engine {
	return &Engine{pool: pool, llm: llm, cfg: cfg, logger: logger}
}

// Augment retrieves context for the request and folds it into req.Messages
// under the configured merge policy. The two modalities run concurrently; a
// failing side degrades to the other, and with no results at all the model
// is told that no context was retrieved. hasSystemPrompt reports whether
// the target model accepts a system message; without it the system-message
// policy falls back to wrapping the last user message.
func (e *Engine) Augment(ctx context.Context, req *domain.ChatRequest, hasSystemPrompt bool) error {
	query, err := queryText(req)
	if err != nil {
		return err
	}

	var (
		g      errgroup.Group
		points []point
		hits   []kwHit
	)
	if e.cfg.VectorServer != "" {
		g.Go(func() error {
			ctx, span := otel.Tracer("relay/retrieval").Start(ctx, "retrieval.vector",
				trace.WithAttributes(otel.RetrievalModality("vector")))
			defer span.End()
			start := time.Now()
			defer func() {
				metrics.RetrievalDuration.WithLabelValues("vector").Observe(time.Since(start).Seconds())
			}()
			found, err := e.vectorSearch(ctx, req)
			if err != nil {
				span.RecordError(err)
				e.logger.Warn("vector search failed",
					"server", e.cfg.VectorServer, "error", err)
				return nil
			}
			span.SetAttributes(otel.RetrievalPoints(len(found)))
			points = found
			return nil
		})
	}
	if e.cfg.KeywordServer != "" {
		g.Go(func() error {
			ctx, span := otel.Tracer("relay/retrieval").Start(ctx, "retrieval.keyword",
				trace.WithAttributes(otel.RetrievalModality("keyword")))
			defer span.End()
			start := time.Now()
			defer func() {
				metrics.RetrievalDuration.WithLabelValues("keyword").Observe(time.Since(start).Seconds())
			}()
			found, err := e.keywordSearch(ctx, query, req.User)
			if err != nil {
				span.RecordError(err)
				e.logger.Warn("keyword search failed",
					"server", e.cfg.KeywordServer, "error", err)
				return nil
			}
			span.SetAttributes(otel.RetrievalPoints(len(found)))
			hits = found
			return nil
		})
	}
	_ = g.Wait()

	alpha := e.cfg.WeightedAlpha
	if req.WeightedAlpha != nil {
		alpha = *req.WeightedAlpha
	}
	ranked := rankSources(hits, points, alpha)

	limit := e.cfg.Limit
	if req.Limit != nil && *req.Limit > 0 {
		limit = *req.Limit
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	if e.cfg.Policy == PolicySystemMessage && !hasSystemPrompt {
		e.logger.Info("merge policy downgraded to last-user-message: model takes no system prompt")
	}
	merged, err := MergeContext(req.Messages, contextText(ranked), e.cfg.Policy, hasSystemPrompt)
	if err != nil {
		return err
	}
	req.Messages = merged

	e.logger.Debug("retrieval complete",
		"keyword_hits", len(hits), "vector_points", len(points), "context_entries", len(ranked))
	return nil
}

// queryText extracts the retrieval query from the trailing user message.
func queryText(req *domain.ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", domain.NewDomainError(domain.ErrBadRequest, "Found empty chat messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != openai.ChatMessageRoleUser {
		return "", domain.NewDomainError(domain.ErrBadRequest, "The last message in the request is not a user message")
	}
	if last.Content == "" {
		return "", domain.NewDomainError(domain.ErrBadRequest, "The last message in the request is not a text-only user message")
	}
	return last.Content, nil
}
