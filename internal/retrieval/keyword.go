package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/tools"
)

// keywordPrompt asks the model to distill the question into searchable
// keywords and emit the search tool call itself.
const keywordPrompt = "Please extract 3 to 7 keywords from my question, separated by spaces. Then, try to return a tool call that invokes the keyword search tool.\n\nMy question is: %q"

// kwHit is one keyword search result. The documents shape decodes into it
// directly; the tidb and elastic shapes are converted.
type kwHit struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Keyword servers publish one of three response shapes, recognized by the
// server's advertised name.
const (
	shapeDocuments = "documents"
	shapeTidb      = "tidb"
	shapeElastic   = "elastic"
)

var keywordShapes = map[string]string{
	"gaia-kwsearch-mcp-server":   shapeDocuments,
	"cardea-kwsearch-mcp-server": shapeDocuments,
	"gaia-tidb-mcp-server":       shapeTidb,
	"cardea-tidb-mcp-server":     shapeTidb,
	"gaia-elastic-mcp-server":    shapeElastic,
	"cardea-elastic-mcp-server":  shapeElastic,
}

// keywordSearch asks the chat model to extract keywords from the query and
// emit a call to the keyword server's search tool, then forwards that call
// and parses the hits. A response without a tool call yields no hits.
func (e *Engine) keywordSearch(ctx context.Context, query, user string) ([]kwHit, error) {
	mcpTools, ok := e.pool.ServerTools(e.cfg.KeywordServer)
	if !ok {
		e.logger.Info("keyword search skipped: server not connected",
			"server", e.cfg.KeywordServer)
		return nil, nil
	}

	// Tool names stay unsuffixed: the model's call is forwarded straight
	// back to the keyword server.
	advertised := make([]openai.Tool, 0, len(mcpTools))
	for _, t := range mcpTools {
		advertised = append(advertised, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  tools.ToolParameters(t),
			},
		})
	}

	resp, err := e.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf(keywordPrompt, query),
		}},
		Tools:      advertised,
		ToolChoice: "auto",
		User:       user,
	})
	if err != nil {
		return nil, fmt.Errorf("extract keywords: %w", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		e.logger.Debug("keyword extraction returned no tool call")
		return nil, nil
	}

	if _, known := keywordShapes[e.cfg.KeywordServer]; !known {
		return nil, domain.Operationf("Unsupported MCP server: %s", e.cfg.KeywordServer)
	}

	call := resp.Choices[0].Message.ToolCalls[0]
	var args map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		args = nil
	}

	raw, err := e.pool.CallTool(ctx, e.cfg.KeywordServer, call.Function.Name, args)
	if err != nil {
		return nil, err
	}
	return parseKeywordHits(e.cfg.KeywordServer, raw)
}

// parseKeywordHits decodes a keyword tool result by the owning server's
// published response shape.
func parseKeywordHits(serverName, raw string) ([]kwHit, error) {
	switch keywordShapes[serverName] {
	case shapeDocuments:
		var envelope struct {
			Hits []kwHit `json:"hits"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return nil, domain.Operationf("Failed to parse the keyword search response: %s", err)
		}
		return envelope.Hits, nil

	case shapeTidb:
		var envelope struct {
			Hits []struct {
				Title   string `json:"title"`
				Content string `json:"content"`
			} `json:"hits"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return nil, domain.Operationf("Failed to parse the keyword search response: %s", err)
		}
		hits := make([]kwHit, 0, len(envelope.Hits))
		for _, h := range envelope.Hits {
			hits = append(hits, kwHit{Title: h.Title, Content: h.Content})
		}
		return hits, nil

	case shapeElastic:
		var envelope struct {
			Hits struct {
				Hits []struct {
					Score  float64 `json:"_score"`
					Source struct {
						Title   string `json:"title"`
						Content string `json:"content"`
					} `json:"_source"`
				} `json:"hits"`
			} `json:"hits"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
			return nil, domain.Operationf("Failed to parse the keyword search response: %s", err)
		}
		hits := make([]kwHit, 0, len(envelope.Hits.Hits))
		for _, h := range envelope.Hits.Hits {
			hits = append(hits, kwHit{Title: h.Source.Title, Content: h.Source.Content, Score: h.Score})
		}
		return hits, nil

	default:
		return nil, domain.Operationf("Unsupported MCP server: %s", serverName)
	}
}
