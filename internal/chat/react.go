package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/tools"
	"github.com/longregen/relay/pkg/otel"
)

// react runs the multi-step reasoning loop. Each iteration forwards the
// conversation and inspects the reply: a tool call becomes an
// <observation> fed back into the context, a <final_answer> ends the loop,
// and a reply with neither is taken as the answer itself. The loop is
// bounded by react_max_iterations.
func (o *Orchestrator) react(ctx context.Context, req *domain.ChatRequest, header http.Header) (*Result, error) {
	wantStream := req.Stream
	req.Stream = false

	convID := o.hydrate(ctx, req)
	ctx = withIdentity(ctx, req.User, convID)
	if o.augmenter != nil {
		if err := o.augmenter.Augment(ctx, req, true); err != nil {
			return nil, err
		}
	}

	srv, err := o.pickChatServer()
	if err != nil {
		return nil, err
	}

	span := trace.SpanFromContext(ctx)
	for iter := 0; iter < o.cfg.ReactMaxIterations; iter++ {
		span.SetAttributes(otel.ReactIteration(iter))
		resp, err := o.forward(ctx, srv, req, header)
		if err != nil {
			return nil, err
		}
		if resp.Status != http.StatusOK {
			o.logger.Error("downstream chat server returned an error", "status", resp.Status)
			return passthrough(resp), nil
		}

		completion, err := parseCompletion(resp.Body)
		if err != nil {
			return nil, err
		}
		content := assistantContent(completion)

		if calls := toolCalls(completion); len(calls) > 0 {
			if content != "" {
				if thought, ok := tagText(content, "thought"); ok {
					o.logger.Info("react thought", "iteration", iter, "thought", thought)
				}
				action, ok := tagText(content, "action")
				if !ok {
					return nil, domain.Operationf("No <action> tags found in the response")
				}
				o.logger.Info("react action", "iteration", iter, "action", action)
			}
			if err := o.observe(ctx, req, convID, calls); err != nil {
				return nil, err
			}
			continue
		}

		if thought, ok := tagText(content, "thought"); ok {
			o.logger.Info("react thought", "iteration", iter, "thought", thought)
		}
		if answer, ok := tagText(content, "final_answer"); ok {
			o.record(ctx, convID, answer, nil)
			return o.finalAnswer(completion, answer, wantStream)
		}
		if action, ok := tagText(content, "action"); ok {
			// An action with no tool call carries nothing to execute.
			o.logger.Info("react action", "iteration", iter, "action", action)
			continue
		}

		// No reasoning tags at all: the reply is the answer.
		o.record(ctx, convID, content, nil)
		return o.finalAnswer(completion, content, wantStream)
	}

	return nil, domain.Operationf("ReAct step budget exceeded")
}

// observe executes the first requested tool call, routed by the advertised
// tool name, and feeds its result back wrapped in <observation> tags.
func (o *Orchestrator) observe(ctx context.Context, req *domain.ChatRequest, convID string, calls []openai.ToolCall) error {
	call := calls[0]
	toolName := call.Function.Name
	target, ok := o.pool.FindByTool(toolName)
	if !ok {
		return domain.NewDomainError(domain.ErrToolNotFound,
			fmt.Sprintf("Failed to find the MCP client with tool name: %s", toolName))
	}

	o.logger.Info("calling mcp tool", "server", target.Name, "tool", toolName)

	text, err := o.pool.CallTool(ctx, target.Name, toolName, parseArgs(call.Function.Arguments))
	if err != nil {
		return err
	}
	content := text
	if target.Role == tools.RoleSearch {
		content = searchWrap(text, target.Fallback())
	}
	o.feedback(ctx, req, convID, calls, "<observation>"+content+"</observation>")
	return nil
}

// finalAnswer rewrites the completion so the client sees the extracted
// answer instead of the tagged reasoning transcript.
func (o *Orchestrator) finalAnswer(completion *openai.ChatCompletionResponse, answer string, wantStream bool) (*Result, error) {
	if wantStream {
		return &Result{
			SSE:    true,
			Frames: Frames(answer, chatID(completion), completion.Model, &completion.Usage, o.cfg.ChunkSize),
		}, nil
	}
	if len(completion.Choices) > 0 {
		completion.Choices[0].Message.Content = answer
	}
	body, err := json.Marshal(completion)
	if err != nil {
		return nil, domain.Operationf("Failed to serialize the response: %s", err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &Result{Status: http.StatusOK, Header: header, Body: body}, nil
}

// tagText extracts the text between the first <tag> and the following
// </tag>. ok is false when either marker is missing.
func tagText(content, tag string) (string, bool) {
	opening, closing := "<"+tag+">", "</"+tag+">"
	i := strings.Index(content, opening)
	if i < 0 {
		return "", false
	}
	rest := content[i+len(opening):]
	j := strings.Index(rest, closing)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
