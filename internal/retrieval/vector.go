package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
)

// point is one scored entry returned by the vector server.
type point struct {
	source string
	score  float64
}

// pointsEnvelope is the search_points tool's JSON result.
type pointsEnvelope struct {
	Points []struct {
		Score   float64 `json:"score"`
		Payload struct {
			Source string `json:"source"`
		} `json:"payload"`
	} `json:"points"`
}

// vectorSearch embeds the recent user turns and queries the vector server's
// search_points tool. Points under the score threshold are dropped;
// duplicate sources keep their first occurrence.
func (e *Engine) vectorSearch(ctx context.Context, req *domain.ChatRequest) ([]point, error) {
	if _, ok := e.pool.ServerTools(e.cfg.VectorServer); !ok {
		e.logger.Info("vector search skipped: server not connected",
			"server", e.cfg.VectorServer)
		return nil, nil
	}

	query, err := e.vectorQuery(req)
	if err != nil {
		return nil, err
	}

	resp, err := e.llm.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: query,
		User:  req.User,
	})
	if err != nil {
		return nil, fmt.Errorf("embed retrieval query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.Operationf("No embeddings returned")
	}

	raw, err := e.pool.CallTool(ctx, e.cfg.VectorServer, "search_points", map[string]any{
		"vector": resp.Data[0].Embedding,
	})
	if err != nil {
		return nil, err
	}

	var envelope pointsEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, domain.Operationf("Failed to parse the search_points response: %s", err)
	}

	threshold := e.cfg.ScoreThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	seen := make(map[string]struct{}, len(envelope.Points))
	var points []point
	for _, p := range envelope.Points {
		if p.Score < threshold || p.Payload.Source == "" {
			continue
		}
		if _, dup := seen[p.Payload.Source]; dup {
			continue
		}
		seen[p.Payload.Source] = struct{}{}
		points = append(points, point{source: p.Payload.Source, score: p.Score})
	}
	return points, nil
}

// vectorQuery joins the last context-window user turns, oldest first. The
// window comes from the request when set, else from config.
func (e *Engine) vectorQuery(req *domain.ChatRequest) (string, error) {
	window := e.cfg.ContextWindow
	if req.ContextWindow != nil && *req.ContextWindow > 0 {
		window = *req.ContextWindow
	}
	if window < 1 {
		window = 1
	}

	var turns []string
	for i := len(req.Messages) - 1; i >= 0 && len(turns) < window; i-- {
		msg := req.Messages[i]
		if msg.Role == openai.ChatMessageRoleUser && msg.Content != "" {
			turns = append(turns, msg.Content)
		}
	}
	if len(turns) == 0 {
		return "", domain.NewDomainError(domain.ErrBadRequest, "No user messages found.")
	}
	slices.Reverse(turns)
	return strings.Join(turns, "\n"), nil
}
