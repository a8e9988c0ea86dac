package chat

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/tools"
)

// normal runs the single-hop orchestrator: forward the request, honor at
// most the first model-requested tool call, feed the result back, and
// forward once more for the final answer.
func (o *Orchestrator) normal(ctx context.Context, req *domain.ChatRequest, header http.Header) (*Result, error) {
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

	calls := toolCalls(completion)
	if len(calls) == 0 {
		o.record(ctx, convID, assistantContent(completion), nil)
		return o.respond(resp, completion, wantStream), nil
	}

	return o.toolHop(ctx, req, header, srv, convID, calls, wantStream)
}

// toolHop executes the first requested tool call and re-forwards the
// request with the result folded in. Tool names arrive suffixed with their
// server, "<tool>---<server>"; anything else is rejected.
func (o *Orchestrator) toolHop(ctx context.Context, req *domain.ChatRequest, header http.Header, srv *domain.RegisteredServer, convID string, calls []openai.ToolCall, wantStream bool) (*Result, error) {
	call := calls[0]
	toolName, serverName, ok := tools.SplitName(call.Function.Name)
	if !ok {
		return nil, domain.Operationf("The tool call '%s' is not supported.", call.Function.Name)
	}
	target, ok := o.pool.Get(serverName)
	if !ok {
		return nil, domain.NewDomainError(domain.ErrToolNotFound, fmt.Sprintf("Tool not found: %s", toolName))
	}

	o.logger.Info("calling mcp tool", "server", serverName, "tool", toolName)

	text, err := o.pool.CallTool(ctx, serverName, toolName, parseArgs(call.Function.Arguments))
	if err != nil {
		return nil, err
	}
	content := text
	if target.Role == tools.RoleSearch {
		content = searchWrap(text, target.Fallback())
	}

	o.feedback(ctx, req, convID, calls, content)

	if req.ToolChoice != nil {
		req.ToolChoice = "none"
	}

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
	o.record(ctx, convID, assistantContent(completion), nil)
	return o.respond(resp, completion, wantStream), nil
}
