package domain

import "time"

// Conversation is the durable per-user chat log head. One conversation per
// user is reused across model switches; the model name only matters at
// creation time.
type Conversation struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id,omitempty"`
	Title               string    `json:"title,omitempty"`
	ModelName           string    `json:"model_name"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	MessageCount        int64     `json:"message_count"`
	TotalTokens         int64     `json:"total_tokens"`
	Summary             string    `json:"summary,omitempty"`
	LastSummarySequence int64     `json:"last_summary_sequence,omitempty"`
	SystemMessage       string    `json:"system_message,omitempty"`
	SystemMessageHash   string    `json:"system_message_hash,omitempty"`
}

// ConversationSummary is the listing shape returned by the history endpoints.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	ModelName    string    `json:"model_name"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
