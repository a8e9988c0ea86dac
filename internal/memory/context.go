package memory

import (
	"context"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
)

// GetModelContext renders the prompt to send downstream: one merged system
// message (the stored system prompt, then the rolling summary) followed by
// the working messages in sequence order. Assistant tool calls are emitted
// in the wire shape, each executed call followed by a tool-role result
// message carrying its tool_call_id.
func (m *Manager) GetModelContext(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	e := m.entryFor(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.hydrateLocked(ctx, conversationID, e); err != nil {
		m.drop(conversationID)
		return nil, err
	}

	var out []openai.ChatCompletionMessage

	var systemParts []string
	if conv.SystemMessage != "" {
		systemParts = append(systemParts, conv.SystemMessage)
	}
	if e.summary != "" {
		systemParts = append(systemParts, "Previous conversation summary: "+e.summary)
	}
	if len(systemParts) > 0 {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.Join(systemParts, "\n\n"),
		})
	}

	for _, msg := range e.working {
		wire := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if len(msg.ToolCalls) > 0 {
			wire.ToolCalls = wireToolCalls(msg.ToolCalls)
		}
		out = append(out, wire)

		for _, tc := range msg.ToolCalls {
			if tc.Result == nil {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    toolResultText(tc.Result),
				ToolCallID: tc.ID,
			})
		}
	}

	return out, nil
}

func wireToolCalls(calls []domain.ToolCall) []openai.ToolCall {
	wire := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		wire = append(wire, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return wire
}

// toolResultText flattens a stored tool result for the tool-role message: a
// JSON string result unwraps to its value, any other JSON passes through as
// text, and failures report the recorded error instead.
func toolResultText(result *domain.ToolCallResult) string {
	if !result.Success {
		errText := result.Error
		if errText == "" {
			errText = "Unknown error"
		}
		return "Tool execution failed: " + errText
	}
	var s string
	if err := json.Unmarshal(result.Content, &s); err == nil {
		return s
	}
	return string(result.Content)
}
