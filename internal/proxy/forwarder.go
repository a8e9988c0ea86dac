// Package proxy forwards requests to downstream OpenAI-compatible servers,
// applying the gateway's auth precedence and response header filter.
package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/metrics"
	"github.com/longregen/relay/pkg/otel"
)

// allowedResponseHeaders are the downstream response headers forwarded to
// the client. Everything else is dropped.
var allowedResponseHeaders = map[string]struct{}{
	"access-control-allow-origin":  {},
	"access-control-allow-headers": {},
	"access-control-allow-methods": {},
	"content-type":                 {},
	"content-length":               {},
	"cache-control":                {},
	"connection":                   {},
	"user":                         {},
	"date":                         {},
	"requires-tool-call":           {},
}

// skipRequestHeaders are inbound headers never mirrored downstream. Auth is
// handled separately, the rest are hop-by-hop or connection-level.
var skipRequestHeaders = map[string]struct{}{
	"host":                {},
	"authorization":       {},
	"content-length":      {},
	"connection":          {},
	"accept-encoding":     {},
	"transfer-encoding":   {},
	"keep-alive":          {},
	"te":                  {},
	"trailer":             {},
	"upgrade":             {},
	"proxy-authorization": {},
	"proxy-connection":    {},
}

// FilterResponseHeaders returns the subset of h the gateway forwards.
func FilterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header, len(allowedResponseHeaders))
	for name, values := range h {
		if _, ok := allowedResponseHeaders[strings.ToLower(name)]; !ok {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

// RequiresToolCall reports whether the downstream response flags a pending
// tool call via the requires-tool-call header.
func RequiresToolCall(h http.Header) bool {
	v, err := strconv.ParseBool(h.Get("requires-tool-call"))
	return err == nil && v
}

// Request describes one downstream POST.
type Request struct {
	Server     *domain.RegisteredServer
	Capability domain.Capability
	Path       string      // appended to the server URL, e.g. "/chat/completions"
	Header     http.Header // inbound headers; mirrored minus skipRequestHeaders
	// ContentType overrides the mirrored Content-Type when set.
	ContentType string
	Body        io.Reader
}

// Response is a fully buffered downstream response with filtered headers.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forwarder relays requests downstream. Responses are buffered whole, so
// stream passthrough delivers the upstream SSE body as one write.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{Transport: otel.NewPropagatingTransport(nil)},
		logger: logger,
	}
}

// Forward POSTs to the server and buffers the reply. Authorization is the
// server's key when present, else the inbound authorization header verbatim.
// Cancelling ctx aborts the call with ErrCancelled.
func (f *Forwarder) Forward(ctx context.Context, req Request) (*Response, error) {
	url := strings.TrimSuffix(req.Server.URL, "/") + req.Path

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, req.Body)
	if err != nil {
		return nil, domain.Operationf("Failed to forward request: %s", err)
	}

	for name, values := range req.Header {
		if _, skip := skipRequestHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if auth := req.Server.BearerToken(); auth != "" {
		httpReq.Header.Set("Authorization", auth)
	} else if auth := req.Header.Get("Authorization"); auth != "" {
		httpReq.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		metrics.DownstreamRequestsTotal.WithLabelValues(req.Server.ID, string(req.Capability), "error").Inc()
		if ctx.Err() != nil {
			f.logger.Warn("request was cancelled by client",
				"server_id", req.Server.ID, "path", req.Path)
			return nil, domain.NewDomainError(domain.ErrCancelled, "Request was cancelled by client")
		}
		f.logger.Error("downstream request failed",
			"server_id", req.Server.ID, "url", url, "error", err)
		return nil, domain.Operationf("Failed to forward the request to the downstream server: %s", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.DownstreamRequestsTotal.WithLabelValues(req.Server.ID, string(req.Capability), "error").Inc()
		if ctx.Err() != nil {
			f.logger.Warn("request was cancelled while reading response",
				"server_id", req.Server.ID, "path", req.Path)
			return nil, domain.NewDomainError(domain.ErrCancelled, "Request was cancelled while reading response")
		}
		return nil, domain.Operationf("Failed to get the full response as bytes: %s", err)
	}

	metrics.DownstreamRequestDuration.WithLabelValues(req.Server.ID).Observe(time.Since(start).Seconds())
	metrics.DownstreamRequestsTotal.WithLabelValues(req.Server.ID, string(req.Capability), strconv.Itoa(resp.StatusCode)).Inc()

	return &Response{
		Status: resp.StatusCode,
		Header: FilterResponseHeaders(resp.Header),
		Body:   body,
	}, nil
}
