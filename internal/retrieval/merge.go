package retrieval

import (
	"fmt"
	"slices"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
)

// Merge policies for folding context into the request.
const (
	PolicySystemMessage   = "system-message"
	PolicyLastUserMessage = "last-user-message"
)

// contextTemplate frames the retrieved context for the chat model. The
// wording is part of the wire contract with prompt-tuned deployments.
const contextTemplate = "You are a helpful AI assistant. Please answer the user question based on the information between **---BEGIN CONTEXT---** and **---END CONTEXT---**. Do not use any external knowledge. If the information between **---BEGIN CONTEXT---** and **---END CONTEXT---** is empty, please respond with `No relevant information found in the current knowledge base`.\n\n---BEGIN CONTEXT---\n\n%s\n\n---END CONTEXT---"

const noContextRetrieved = "No context retrieved"

// contextText joins the ranked sources into the prompt context block.
func contextText(ranked []Scored) string {
	if len(ranked) == 0 {
		return noContextRetrieved
	}
	parts := make([]string, len(ranked))
	for i, s := range ranked {
		parts[i] = s.Source
	}
	return strings.Join(parts, "\n\n")
}

// MergeContext folds the retrieved context into the message list under the
// given policy and returns the updated list. When the target model cannot
// take a system message, the system-message policy falls back to wrapping
// the last user message.
func MergeContext(messages []openai.ChatCompletionMessage, context, policy string, hasSystemPrompt bool) ([]openai.ChatCompletionMessage, error) {
	if len(messages) == 0 {
		return nil, domain.NewDomainError(domain.ErrBadRequest, "Found empty chat messages")
	}
	if policy == PolicySystemMessage && !hasSystemPrompt {
		policy = PolicyLastUserMessage
	}
	rendered := fmt.Sprintf(contextTemplate, context)

	switch policy {
	case PolicySystemMessage:
		out := slices.Clone(messages)
		if out[0].Role == openai.ChatMessageRoleSystem {
			out[0] = openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: rendered,
				Name:    out[0].Name,
			}
			return out, nil
		}
		return slices.Insert(out, 0, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: rendered,
		}), nil

	case PolicyLastUserMessage:
		last := messages[len(messages)-1]
		if last.Role != openai.ChatMessageRoleUser {
			return nil, domain.Operationf("The last message in the chat request should be a user message.")
		}
		out := slices.Clone(messages)
		if last.Content == "" {
			// Multi-part user content is forwarded untouched.
			return out, nil
		}
		out[len(out)-1] = openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("%s\n\nThe question is:\n%s", rendered, last.Content),
			Name:    last.Name,
		}
		return out, nil

	default:
		return nil, domain.Operationf("unknown merge policy: %s", policy)
	}
}
