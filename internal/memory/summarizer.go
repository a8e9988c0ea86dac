package memory

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
)

// summaryMaxTokens caps the completion budget for a summary generation call.
const summaryMaxTokens = 8192

// Summarizer condenses messages drained out of a working window into a
// rolling summary. The existing summary, when present, must be folded into
// the new one so coverage never regresses.
type Summarizer interface {
	Summarize(ctx context.Context, drained []*domain.Message, existing string) (string, error)
}

// ChatCompleter is the single model call summarization needs. *llm.Client
// and *llm.Router both satisfy it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMSummarizer generates summaries through a chat-completion call against
// the configured summary model.
type LLMSummarizer struct {
	client ChatCompleter
	model  string
}

func NewLLMSummarizer(client ChatCompleter, model string) *LLMSummarizer {
	return &LLMSummarizer{client: client, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, drained []*domain.Message, existing string) (string, error) {
	if len(drained) == 0 {
		return existing, nil
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: summaryPrompt(drained, existing)},
		},
		MaxTokens: summaryMaxTokens,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate summary: response carried no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// summaryPrompt renders drained messages into the incremental summarization
// prompt. Tool invocations are listed with their outcome so the summary can
// mention what was looked up.
func summaryPrompt(drained []*domain.Message, existing string) string {
	var b strings.Builder

	if existing != "" {
		b.WriteString("Previous conversation summary:\n")
		b.WriteString(existing)
		b.WriteString("\n\nNew messages to incorporate:\n\n")
	} else {
		b.WriteString("Please summarize the following conversation:\n\n")
	}

	for _, msg := range drained {
		fmt.Fprintf(&b, "**%s:** %s\n", msg.Role, msg.Content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "  Used tool: %s", tc.Name)
			switch {
			case tc.Result == nil:
				b.WriteString("\n")
			case tc.Result.Success:
				b.WriteString(" (successful)\n")
			default:
				errText := tc.Result.Error
				if errText == "" {
					errText = "unknown error"
				}
				fmt.Fprintf(&b, " (failed: %s)\n", errText)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("Provide a concise summary that captures:\n" +
		"1. Main topics discussed\n" +
		"2. Key decisions or conclusions\n" +
		"3. Tools used and their purposes\n" +
		"4. Any unresolved issues\n\n" +
		"Summary:")

	return b.String()
}

// localSummaryLimit bounds the rolling summary produced without an LLM; the
// newest tail is kept when the limit is hit.
const localSummaryLimit = 2000

// LocalSummarizer is the fallback used when no summary model is configured:
// it keeps one clipped line per drained message so summarization never
// depends on an external call.
type LocalSummarizer struct{}

func (LocalSummarizer) Summarize(_ context.Context, drained []*domain.Message, existing string) (string, error) {
	if len(drained) == 0 {
		return existing, nil
	}

	parts := make([]string, 0, len(drained)+1)
	if existing != "" {
		parts = append(parts, existing)
	}
	for _, msg := range drained {
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Role, clip(msg.Content, 80)))
	}

	summary := strings.Join(parts, "; ")
	if r := []rune(summary); len(r) > localSummaryLimit {
		summary = string(r[len(r)-localSummaryLimit:])
	}
	return summary, nil
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
