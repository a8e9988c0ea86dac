package domain

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallResult records the outcome of dispatching a single tool call.
type ToolCallResult struct {
	Content         json.RawMessage `json:"content"`
	Success         bool            `json:"success"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// ToolCall is a model-emitted tool invocation stored on an assistant message.
// Arguments hold the raw JSON object when the model emitted valid JSON,
// otherwise the original text wrapped as a JSON string.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    *ToolCallResult `json:"result,omitempty"`
	Sequence  int             `json:"sequence"`
}

// Message is one stored conversation entry. Sequence is the canonical order
// within a conversation, assigned atomically on write, starting at 1.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	Sequence       int64      `json:"sequence"`
	Tokens         int        `json:"tokens,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// EstimateTokens approximates the token cost of a message: one token per
// four bytes of content plus a flat charge per tool call.
func (m *Message) EstimateTokens() int {
	return (len(m.Content)+3)/4 + 100*len(m.ToolCalls)
}

// ParseToolArguments normalizes a model-emitted arguments string: valid JSON
// passes through raw, anything else is stored as a JSON string.
func ParseToolArguments(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
