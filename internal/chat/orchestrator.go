// Package chat runs the gateway's chat-completion turns: forwarding to a
// picked downstream server, dispatching model-requested MCP tool calls, and
// synthesizing SSE streams at the edge. Downstream always sees stream=false;
// the client's stream wish is honored by re-chunking the finished answer.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/proxy"
	"github.com/longregen/relay/internal/tools"
	"github.com/longregen/relay/pkg/otel"
)

// searchResultTemplate instructs the model to answer from a search server's
// result. The wording is part of the wire contract with prompt-tuned
// deployments.
const searchResultTemplate = "Please answer the question based on the information between **---BEGIN CONTEXT---** and **---END CONTEXT---**. Do not use any external knowledge. If the information between **---BEGIN CONTEXT---** and **---END CONTEXT---** is empty, please respond with `%s`. Note that DO NOT use any tools if provided.\n\n---BEGIN CONTEXT---\n\n%s\n\n---END CONTEXT---"

const noChatServerMessage = "No chat server available. Please register a chat server via the `/admin/servers/register` endpoint."

// Picker selects a downstream server per capability. *registry.Registry
// satisfies it.
type Picker interface {
	Pick(kind domain.Capability) (*domain.RegisteredServer, error)
}

// ToolPool is the slice of the MCP pool the orchestrators dispatch through.
// *tools.Pool satisfies it.
type ToolPool interface {
	Get(name string) (*tools.Server, bool)
	FindByTool(toolName string) (*tools.Server, bool)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error)
	Catalog() []openai.Tool
	BareCatalog() []openai.Tool
}

// Memory records conversation turns and rebuilds the model context between
// tool hops. *memory.Manager satisfies it.
type Memory interface {
	GetOrCreateUserConversation(ctx context.Context, userID, model string) (string, error)
	AddUserMessage(ctx context.Context, conversationID, content string) (*domain.Message, error)
	AddAssistantMessage(ctx context.Context, conversationID, content string, toolCalls []domain.ToolCall) (*domain.Message, error)
	SetSystemMessage(ctx context.Context, conversationID, text string) (bool, error)
	GetModelContext(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error)
}

// Augmenter folds retrieved context into the request before it is forwarded.
// *retrieval.Engine satisfies it.
type Augmenter interface {
	Augment(ctx context.Context, req *domain.ChatRequest, hasSystemPrompt bool) error
}

// Result is one finished chat turn, ready for the HTTP layer to write.
// Either Frames is set (synthesized SSE, ending with the [DONE] marker) or
// Status/Header/Body carry a buffered downstream reply verbatim.
type Result struct {
	Status int
	Header http.Header
	Body   []byte

	SSE    bool
	Frames []string
}

// Orchestrator drives chat turns in the configured mode. memory and
// augmenter may be nil, which disables conversation memory and retrieval
// augmentation respectively.
type Orchestrator struct {
	picker    Picker
	forwarder *proxy.Forwarder
	pool      ToolPool
	memory    Memory
	augmenter Augmenter
	cfg       config.ChatConfig
	logger    *slog.Logger
}

func NewOrchestrator(picker Picker, forwarder *proxy.Forwarder, pool ToolPool, memory Memory, augmenter Augmenter, cfg config.ChatConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		picker:    picker,
		forwarder: forwarder,
		pool:      pool,
		memory:    memory,
		augmenter: augmenter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Completion runs one chat turn in the configured mode. header carries the
// inbound request headers for the downstream auth fallback.
func (o *Orchestrator) Completion(ctx context.Context, req *domain.ChatRequest, header http.Header) (*Result, error) {
	ctx, span := otel.Tracer("relay/chat").Start(ctx, "chat.completion",
		trace.WithAttributes(otel.ChatMode(o.cfg.Mode), otel.LLMModel(req.Model)))
	defer span.End()

	o.advertise(req)
	var res *Result
	var err error
	if o.cfg.Mode == "react" {
		res, err = o.react(ctx, req, header)
	} else {
		res, err = o.normal(ctx, req, header)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// advertise appends the pool's tool catalog to the request, after any tools
// the client sent. Normal mode advertises suffixed names so replies route by
// SplitName; react advertises bare names for FindByTool. An unset or "none"
// tool choice becomes "auto" so the model may actually pick one.
func (o *Orchestrator) advertise(req *domain.ChatRequest) {
	if o.pool == nil {
		return
	}
	var catalog []openai.Tool
	if o.cfg.Mode == "react" {
		catalog = o.pool.BareCatalog()
	} else {
		catalog = o.pool.Catalog()
	}
	if len(catalog) == 0 {
		return
	}
	req.Tools = append(req.Tools, catalog...)
	if req.ToolChoice == nil || req.ToolChoice == "none" {
		req.ToolChoice = "auto"
	}
}

// hydrate resolves the user's conversation and replaces the request messages
// with the memory-managed model context. Memory failures never fail the
// turn; an empty conversation id disables recording for the rest of it.
func (o *Orchestrator) hydrate(ctx context.Context, req *domain.ChatRequest) string {
	if o.memory == nil || req.User == "" {
		return ""
	}
	model := req.Model
	if model == "" {
		model = "default"
	}
	convID, err := o.memory.GetOrCreateUserConversation(ctx, req.User, model)
	if err != nil {
		o.logger.Warn("failed to get or create conversation",
			"user", req.User, "error", err)
		return ""
	}

	if text, ok := lastUserText(req.Messages); ok {
		if _, err := o.memory.AddUserMessage(ctx, convID, text); err != nil {
			o.logger.Error("failed to add user message to memory",
				"conversation_id", convID, "error", err)
		}
	}
	if sys, ok := systemText(req.Messages); ok {
		if _, err := o.memory.SetSystemMessage(ctx, convID, sys); err != nil {
			o.logger.Warn("failed to update system message",
				"conversation_id", convID, "error", err)
		}
	}
	if msgs, err := o.memory.GetModelContext(ctx, convID); err != nil {
		o.logger.Warn("failed to get model context",
			"conversation_id", convID, "error", err)
	} else if len(msgs) > 0 {
		req.Messages = msgs
	}
	return convID
}

// withIdentity tags the context so downstream requests carry X-User-Id and
// X-Session-Id headers and MCP calls the matching _meta fields.
func withIdentity(ctx context.Context, userID, convID string) context.Context {
	if userID != "" {
		ctx = otel.WithUserID(ctx, userID)
	}
	if convID != "" {
		ctx = otel.WithSessionID(ctx, convID)
	}
	return ctx
}

// record appends an assistant turn to memory. Failures are logged, never
// fatal to the request.
func (o *Orchestrator) record(ctx context.Context, convID, content string, toolCalls []domain.ToolCall) bool {
	if o.memory == nil || convID == "" {
		return false
	}
	if _, err := o.memory.AddAssistantMessage(ctx, convID, content, toolCalls); err != nil {
		o.logger.Error("failed to add assistant message to memory",
			"conversation_id", convID, "error", err)
		return false
	}
	return true
}

// forward serializes the request and POSTs it to the server's chat endpoint.
func (o *Orchestrator) forward(ctx context.Context, srv *domain.RegisteredServer, req *domain.ChatRequest, header http.Header) (*proxy.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.Operationf("Failed to serialize the chat request: %s", err)
	}
	return o.forwarder.Forward(ctx, proxy.Request{
		Server:      srv,
		Capability:  domain.CapabilityChat,
		Path:        "/chat/completions",
		Header:      header,
		ContentType: "application/json",
		Body:        bytes.NewReader(body),
	})
}

func (o *Orchestrator) pickChatServer() (*domain.RegisteredServer, error) {
	srv, err := o.picker.Pick(domain.CapabilityChat)
	if err != nil {
		return nil, domain.NewDomainError(domain.ErrNoServerAvailable, noChatServerMessage)
	}
	return srv, nil
}

// respond turns a finished OK downstream reply into the client-facing
// result: the body verbatim, or a synthesized stream when one was asked for.
func (o *Orchestrator) respond(resp *proxy.Response, completion *openai.ChatCompletionResponse, wantStream bool) *Result {
	if !wantStream {
		return &Result{Status: resp.Status, Header: resp.Header, Body: resp.Body}
	}
	return &Result{
		SSE:    true,
		Frames: Frames(assistantContent(completion), chatID(completion), completion.Model, &completion.Usage, o.cfg.ChunkSize),
	}
}

func passthrough(resp *proxy.Response) *Result {
	return &Result{Status: resp.Status, Header: resp.Header, Body: resp.Body}
}

func parseCompletion(body []byte) (*openai.ChatCompletionResponse, error) {
	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, domain.Operationf("Failed to parse the response: %s", err)
	}
	return &completion, nil
}

func assistantContent(completion *openai.ChatCompletionResponse) string {
	if len(completion.Choices) == 0 {
		return ""
	}
	return completion.Choices[0].Message.Content
}

func toolCalls(completion *openai.ChatCompletionResponse) []openai.ToolCall {
	if len(completion.Choices) == 0 {
		return nil
	}
	return completion.Choices[0].Message.ToolCalls
}

// feedback threads a finished tool exchange back into the request messages.
// With a live conversation the exchange is recorded and the messages are
// rebuilt from memory, so the downstream sees the tool-role result the same
// way a later turn would; otherwise the assistant echo and tool result are
// appended in place.
func (o *Orchestrator) feedback(ctx context.Context, req *domain.ChatRequest, convID string, calls []openai.ToolCall, content string) {
	stored := storedToolCalls(calls)
	toolResult(stored, content)
	if o.record(ctx, convID, "", stored) {
		msgs, err := o.memory.GetModelContext(ctx, convID)
		if err == nil && len(msgs) > 0 {
			req.Messages = msgs
			return
		}
		if err != nil {
			o.logger.Warn("failed to rebuild model context",
				"conversation_id", convID, "error", err)
		}
	}
	req.Messages = append(req.Messages,
		openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: wireToolCalls(calls),
		},
		openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    content,
			ToolCallID: calls[0].ID,
		})
}

func chatID(completion *openai.ChatCompletionResponse) string {
	if completion.ID != "" {
		return completion.ID
	}
	return newChatID()
}

func searchWrap(text, fallback string) string {
	return fmt.Sprintf(searchResultTemplate, fallback, text)
}

// lastUserText scans backwards for the newest user message carrying text.
// Multi-part content yields its text parts joined with spaces.
func lastUserText(messages []openai.ChatCompletionMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != openai.ChatMessageRoleUser {
			continue
		}
		if msg.Content != "" {
			return msg.Content, true
		}
		var parts []string
		for _, part := range msg.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " "), true
		}
	}
	return "", false
}

// systemText returns the first system message's content.
func systemText(messages []openai.ChatCompletionMessage) (string, bool) {
	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleSystem && msg.Content != "" {
			return msg.Content, true
		}
	}
	return "", false
}

// storedToolCalls converts model-emitted tool calls to the storage shape,
// preserving their order.
func storedToolCalls(calls []openai.ToolCall) []domain.ToolCall {
	stored := make([]domain.ToolCall, 0, len(calls))
	for i, call := range calls {
		stored = append(stored, domain.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: domain.ParseToolArguments(call.Function.Arguments),
			Sequence:  i,
		})
	}
	return stored
}

// toolResult marks the first stored call as executed with the given text.
func toolResult(stored []domain.ToolCall, text string) {
	if len(stored) == 0 {
		return
	}
	content, _ := json.Marshal(text)
	stored[0].Result = &domain.ToolCallResult{
		Content:   content,
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
}

// parseArgs decodes the model-emitted arguments string; anything that is not
// a JSON object is dropped and the tool is called without arguments.
func parseArgs(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	return args
}

// wireToolCalls re-emits stored-order tool calls in the request wire shape
// for the assistant echo message of a tool hop.
func wireToolCalls(calls []openai.ToolCall) []openai.ToolCall {
	out := make([]openai.ToolCall, len(calls))
	copy(out, calls)
	return out
}
