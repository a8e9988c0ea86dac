package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/longregen/relay/internal/chat"
	"github.com/longregen/relay/internal/domain"
)

// Completer runs one chat turn. *chat.Orchestrator satisfies it.
type Completer interface {
	Completion(ctx context.Context, req *domain.ChatRequest, header http.Header) (*chat.Result, error)
}

type ChatHandler struct {
	orc    Completer
	logger *slog.Logger
}

func NewChatHandler(orc Completer, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{orc: orc, logger: logger}
}

// Completions handles POST /v1/chat/completions.
func (h *ChatHandler) Completions(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Sprintf("Failed to parse the chat completion request: %s", err), http.StatusBadRequest)
		return
	}

	h.logger.Info("received a new chat request",
		"request_id", RequestIDFromContext(r.Context()),
		"model", req.Model, "stream", req.Stream)

	res, err := h.orc.Completion(r.Context(), &req, r.Header)
	if err != nil {
		h.logger.Error("chat completion failed",
			"request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, err)
		return
	}
	writeChatResult(w, r, res)
}

func writeChatResult(w http.ResponseWriter, r *http.Request, res *chat.Result) {
	if res.SSE {
		writeSSE(w, r, res.Frames)
		return
	}
	for name, values := range res.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(res.Status)
	w.Write(res.Body)
}

// writeSSE streams pre-built frames, flushing each one so proxies and
// clients see tokens as they are produced. A gone client ends the stream.
func writeSSE(w http.ResponseWriter, r *http.Request, frames []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, frame := range frames {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		if _, err := io.WriteString(w, frame); err != nil {
			return
		}
		flusher.Flush()
	}
}
