package domain

import (
	openai "github.com/sashabaranov/go-openai"
)

// ChatRequest is the inbound chat-completion payload: the standard OpenAI
// request plus the retrieval extensions this gateway accepts. Unknown fields
// are dropped on decode; downstream receives this struct re-serialized.
type ChatRequest struct {
	openai.ChatCompletionRequest

	// Stream shadows the embedded field so that a forced false is still
	// serialized explicitly instead of being omitted.
	Stream bool `json:"stream"`

	Limit          *int     `json:"limit,omitempty"`
	ScoreThreshold *float64 `json:"score_threshold,omitempty"`
	WeightedAlpha  *float64 `json:"weighted_alpha,omitempty"`
	ContextWindow  *int     `json:"context_window,omitempty"`

	VdbCollectionName  []string `json:"vdb_collection_name,omitempty"`
	KwSearchIndex      string   `json:"kw_search_index,omitempty"`
	EsSearchIndex      string   `json:"es_search_index,omitempty"`
	EsSearchFields     []string `json:"es_search_fields,omitempty"`
	TidbSearchDatabase string   `json:"tidb_search_database,omitempty"`
	TidbSearchTable    string   `json:"tidb_search_table,omitempty"`
}

// LastUserText returns the content of the trailing message when it is a
// plain-text user message.
func (r *ChatRequest) LastUserText() (string, bool) {
	if len(r.Messages) == 0 {
		return "", false
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != openai.ChatMessageRoleUser || last.Content == "" {
		return "", false
	}
	return last.Content, true
}
