// Package tools maintains sessions to MCP tool servers over streamable
// HTTP and routes tool calls to the server that owns each tool.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/metrics"
	"github.com/longregen/relay/pkg/otel"
)

// Separator joins a tool name to its server name when the catalog is
// advertised to the model, so replies route back to the owning server.
const Separator = "---"

// Server roles. Search servers feed retrieval and get the context-template
// treatment for their results; generic servers return raw text.
const (
	RoleSearch  = "search"
	RoleGeneric = "generic"
)

// DefaultSearchFallback is the reply the model is told to give when a
// search server returns an empty result and no fallback is configured.
const DefaultSearchFallback = "I’m unable to retrieve the necessary information to answer your question right now. Please try rephrasing or asking about something else."

// searchServerNames are the published names of known retrieval backends.
// Consulted only when the config omits an explicit role.
var searchServerNames = map[string]struct{}{
	"gaia-kwsearch-mcp-server":         {},
	"gaia-qdrant-mcp-server":           {},
	"gaia-tidb-mcp-server":             {},
	"gaia-elastic-mcp-server":          {},
	"cardea-agentic-search":            {},
	"cardea-agentic-search-mcp-server": {},
	"cardea-kwsearch-mcp-server":       {},
	"cardea-qdrant-mcp-server":         {},
	"cardea-tidb-mcp-server":           {},
	"cardea-elastic-mcp-server":        {},
}

// DefaultRole resolves a tool server's role from its name when the config
// leaves the role field empty.
func DefaultRole(name string) string {
	if _, ok := searchServerNames[name]; ok {
		return RoleSearch
	}
	return RoleGeneric
}

// Server is one connected MCP tool server.
type Server struct {
	Name            string
	Role            string
	FallbackMessage string

	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// Tools returns the server's advertised tool catalog.
func (s *Server) Tools() []*mcp.Tool { return s.tools }

// HasTool reports whether the server advertises the named tool.
func (s *Server) HasTool(name string) bool {
	for _, t := range s.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Fallback returns the configured empty-result message, or the default.
func (s *Server) Fallback() string {
	if s.FallbackMessage != "" {
		return s.FallbackMessage
	}
	return DefaultSearchFallback
}

// emptyObject is advertised for tools that declare no input schema;
// OpenAI-compatible backends reject a null parameters field.
var emptyObject = &jsonschema.Schema{Type: "object"}

// ToolParameters returns the tool's input schema, or an empty object
// schema when the tool declares none.
func ToolParameters(t *mcp.Tool) *jsonschema.Schema {
	if t.InputSchema == nil {
		return emptyObject
	}
	return t.InputSchema
}

// OpenAITools converts the server's catalog to OpenAI function definitions
// with Separator-suffixed names.
func (s *Server) OpenAITools() []openai.Tool {
	return s.convert(true)
}

// BareTools converts the server's catalog to OpenAI function definitions
// under the tools' own names.
func (s *Server) BareTools() []openai.Tool {
	return s.convert(false)
}

func (s *Server) convert(suffixed bool) []openai.Tool {
	out := make([]openai.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		name := t.Name
		if suffixed {
			name += Separator + s.Name
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: t.Description,
				Parameters:  ToolParameters(t),
			},
		})
	}
	return out
}

// headerTransport adds fixed headers to every outbound request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	if t.base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.base.RoundTrip(req)
}

// Pool holds the connected tool servers, keyed by configured name.
type Pool struct {
	mu      sync.RWMutex
	servers map[string]*Server

	logger *slog.Logger
}

func NewPool(logger *slog.Logger) *Pool {
	return &Pool{
		servers: make(map[string]*Server),
		logger:  logger,
	}
}

const connectMaxTries = 5

// Connect dials the configured server, retrying with capped exponential
// backoff, then loads its tool catalog. Connecting under an already-used
// name replaces the previous session.
func (p *Pool) Connect(ctx context.Context, cfg config.ToolServerConfig) error {
	role := cfg.Role
	if role == "" {
		role = DefaultRole(cfg.Name)
	}

	var base http.RoundTripper
	if cfg.APIKey != "" {
		key := cfg.APIKey
		if !strings.HasPrefix(key, "Bearer ") {
			key = "Bearer " + key
		}
		base = &headerTransport{headers: map[string]string{"Authorization": key}}
	}
	httpClient := &http.Client{Transport: otel.NewPropagatingTransport(base)}

	client := mcp.NewClient(&mcp.Implementation{Name: "relay", Version: "1.0.0"}, nil)
	transport := &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second

	session, err := backoff.Retry(ctx, func() (*mcp.ClientSession, error) {
		return client.Connect(ctx, transport, nil)
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(connectMaxTries),
		backoff.WithNotify(func(err error, delay time.Duration) {
			p.logger.Warn("mcp connect failed, retrying",
				"server", cfg.Name, "error", err, "delay", delay)
		}))
	if err != nil {
		return fmt.Errorf("connect to mcp server %s: %w", cfg.Name, err)
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		session.Close()
		return fmt.Errorf("list tools on %s: %w", cfg.Name, err)
	}

	srv := &Server{
		Name:            cfg.Name,
		Role:            role,
		FallbackMessage: cfg.FallbackMessage,
		session:         session,
		tools:           listed.Tools,
	}

	p.mu.Lock()
	if old, ok := p.servers[cfg.Name]; ok {
		old.session.Close()
	}
	p.servers[cfg.Name] = srv
	p.mu.Unlock()

	p.logger.Info("mcp server connected",
		"server", cfg.Name, "role", role, "tools", len(srv.tools))
	return nil
}

// Get returns the server registered under name.
func (p *Pool) Get(name string) (*Server, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	srv, ok := p.servers[name]
	return srv, ok
}

// ServerTools returns the named server's advertised tool catalog.
func (p *Pool) ServerTools(name string) ([]*mcp.Tool, bool) {
	srv, ok := p.Get(name)
	if !ok {
		return nil, false
	}
	return srv.Tools(), true
}

// FindByTool returns the server advertising the raw (unsuffixed) tool name.
func (p *Pool) FindByTool(toolName string) (*Server, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, name := range slices.Sorted(maps.Keys(p.servers)) {
		if p.servers[name].HasTool(toolName) {
			return p.servers[name], true
		}
	}
	return nil, false
}

// List returns the connected servers in name order.
func (p *Pool) List() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Server, 0, len(p.servers))
	for _, name := range slices.Sorted(maps.Keys(p.servers)) {
		out = append(out, p.servers[name])
	}
	return out
}

// SearchServers returns the connected search-role servers in name order.
func (p *Pool) SearchServers() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*Server
	for _, name := range slices.Sorted(maps.Keys(p.servers)) {
		if p.servers[name].Role == RoleSearch {
			out = append(out, p.servers[name])
		}
	}
	return out
}

// Catalog returns every server's tools as OpenAI function definitions with
// Separator-suffixed names, grouped by server in name order.
func (p *Pool) Catalog() []openai.Tool {
	var out []openai.Tool
	for _, srv := range p.List() {
		out = append(out, srv.OpenAITools()...)
	}
	return out
}

// BareCatalog lists the same tools under their own names. The react loop
// advertises these and routes replies with FindByTool.
func (p *Pool) BareCatalog() []openai.Tool {
	var out []openai.Tool
	for _, srv := range p.List() {
		out = append(out, srv.BareTools()...)
	}
	return out
}

// CallTool invokes a tool on the named server and returns its text output.
// The result must carry exactly one text content item.
func (p *Pool) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (string, error) {
	ctx, span := otel.Tracer("relay/tools").Start(ctx, "mcp.call_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(otel.ToolServer(serverName), otel.ToolName(toolName)))
	defer span.End()

	srv, ok := p.Get(serverName)
	if !ok {
		err := domain.NewDomainError(domain.ErrToolNotFound, fmt.Sprintf("Tool not found: %s", toolName))
		span.SetStatus(codes.Error, err.Error())
		metrics.ToolCallsTotal.WithLabelValues(serverName, toolName, "error").Inc()
		return "", err
	}

	res, err := srv.session.CallTool(ctx, &mcp.CallToolParams{
		Meta:      otel.InjectMCPMeta(ctx),
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		p.logger.Error("tool call failed",
			"server", serverName, "tool", toolName, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ToolCallsTotal.WithLabelValues(serverName, toolName, "error").Inc()
		return "", domain.Operationf("Failed to call the tool: %s", err)
	}

	text, err := textResult(res, toolName)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.ToolCallsTotal.WithLabelValues(serverName, toolName, "error").Inc()
		return "", err
	}

	span.SetAttributes(otel.ToolStatus("ok"))
	metrics.ToolCallsTotal.WithLabelValues(serverName, toolName, "ok").Inc()
	return text, nil
}

// textResult enforces the tool result contract: a successful result with
// exactly one text content item.
func textResult(res *mcp.CallToolResult, toolName string) (string, error) {
	if res.IsError {
		return "", domain.Operationf("Failed to call the tool: %s", toolName)
	}
	if len(res.Content) == 0 {
		return "", domain.NewDomainError(domain.ErrToolEmptyContent, "The mcp tool result is empty")
	}
	if len(res.Content) != 1 {
		return "", domain.Operationf("Only text content is supported for tool call results")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		return "", domain.Operationf("Only text content is supported for tool call results")
	}
	return text.Text, nil
}

// SplitName splits an advertised "<tool>---<server>" name at the last
// separator. ok is false when the name carries no separator.
func SplitName(name string) (tool, server string, ok bool) {
	i := strings.LastIndex(name, Separator)
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+len(Separator):], true
}

// Close shuts down every session.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, srv := range p.servers {
		if err := srv.session.Close(); err != nil {
			p.logger.Warn("closing mcp session", "server", name, "error", err)
		}
	}
	clear(p.servers)
}
