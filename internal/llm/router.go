package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/registry"
)

// Router resolves a downstream client per call, so servers registered or
// removed through the admin endpoints take effect without a restart.
type Router struct {
	registry *registry.Registry
	opts     []Option
}

// NewRouter builds a Router over the registry. opts apply to every client
// it constructs.
func NewRouter(reg *registry.Registry, opts ...Option) *Router {
	return &Router{registry: reg, opts: opts}
}

func (r *Router) clientFor(kind domain.Capability) (*Client, error) {
	srv, err := r.registry.Pick(kind)
	if err != nil {
		return nil, err
	}
	return NewClient(srv.URL, srv.APIKey, r.opts...), nil
}

// CreateChatCompletion routes the request to a healthy chat server.
func (r *Router) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	client, err := r.clientFor(domain.CapabilityChat)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return client.CreateChatCompletion(ctx, req)
}

// CreateEmbeddings routes the request to a healthy embeddings server.
func (r *Router) CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequest) (openai.EmbeddingResponse, error) {
	client, err := r.clientFor(domain.CapabilityEmbeddings)
	if err != nil {
		return openai.EmbeddingResponse{}, err
	}
	return client.CreateEmbeddings(ctx, req)
}
