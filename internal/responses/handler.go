package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/id"
	"github.com/longregen/relay/internal/proxy"
)

// SessionStore persists serialized sessions. *store.Store satisfies it.
type SessionStore interface {
	UpsertSession(ctx context.Context, id string, data json.RawMessage, now int64) error
	FindSessionByResponseID(ctx context.Context, responseID string) (string, json.RawMessage, error)
}

// Picker selects a downstream server by capability.
type Picker interface {
	Pick(kind domain.Capability) (*domain.RegisteredServer, error)
}

// Request is the accepted Responses API request shape. The downstream turn
// always runs unstreamed under the "responses-api" user, whatever stream and
// user say; unknown fields are discarded.
type Request struct {
	Model              string `json:"model"`
	Input              string `json:"input"`
	Instructions       string `json:"instructions,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Stream             bool   `json:"stream,omitempty"`
	User               string `json:"user,omitempty"`
}

// Response is the Responses API reply envelope.
type Response struct {
	ID                 string       `json:"id"`
	Object             string       `json:"object"`
	CreatedAt          int64        `json:"created_at"`
	Status             string       `json:"status"`
	Model              string       `json:"model"`
	Output             []OutputItem `json:"output"`
	Usage              Usage        `json:"usage"`
	PreviousResponseID *string      `json:"previous_response_id"`
	OutputText         string       `json:"output_text,omitempty"`
}

type OutputItem struct {
	Type    string        `json:"type"`
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func newResponse(responseID, model, content string, inputTokens, outputTokens int, previousID *string) *Response {
	return &Response{
		ID:        responseID,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     model,
		Output: []OutputItem{{
			Type:   "message",
			ID:     id.NewOutput(),
			Status: "completed",
			Role:   "assistant",
			Content: []ContentItem{{
				Type: "output_text",
				Text: content,
			}},
		}},
		Usage: Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
		PreviousResponseID: previousID,
		OutputText:         content,
	}
}

// Handler serves POST /v1/responses. Each call runs one chat turn against a
// downstream chat server and folds it into the session row.
type Handler struct {
	store     SessionStore
	picker    Picker
	forwarder *proxy.Forwarder
	logger    *slog.Logger
}

func NewHandler(store SessionStore, picker Picker, forwarder *proxy.Forwarder, logger *slog.Logger) *Handler {
	return &Handler{store: store, picker: picker, forwarder: forwarder, logger: logger}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, fmt.Sprintf("Failed to parse the response request: %s", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		h.respondError(w, "Model is required", http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		h.respondError(w, "Input is required", http.StatusBadRequest)
		return
	}

	responseID := id.NewResponse()

	var session *Session
	sessionID := responseID
	var previousID *string
	if req.PreviousResponseID != "" {
		previousID = &req.PreviousResponseID
		rowID, data, err := h.store.FindSessionByResponseID(ctx, req.PreviousResponseID)
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			h.respondError(w, fmt.Sprintf("Previous response ID not found: %s", req.PreviousResponseID), http.StatusBadRequest)
			return
		case err != nil:
			h.respondError(w, fmt.Sprintf("Database error: %s", err), http.StatusInternalServerError)
			return
		}
		session = &Session{}
		if err := json.Unmarshal(data, session); err != nil {
			h.respondError(w, fmt.Sprintf("Database error: %s", err), http.StatusInternalServerError)
			return
		}
		sessionID = rowID
	} else {
		session = NewSession(responseID, req.Model, req.Instructions)
	}

	inputTokens := estimateTokens(req.Input)
	session.AddMessage("user", req.Input, inputTokens, 0, "")

	start := time.Now()
	content, err := h.chatTurn(ctx, req.Model, session.History())
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return
		}
		h.logger.Error("responses chat turn failed",
			"response_id", responseID, "model", req.Model, "error", err)
		h.respondError(w, fmt.Sprintf("Chat backend error: %s", err), http.StatusInternalServerError)
		return
	}

	outputTokens := estimateTokens(content)
	session.AddMessage("assistant", content, outputTokens, time.Since(start).Milliseconds(), responseID)

	data, err := json.Marshal(session)
	if err != nil {
		h.respondError(w, fmt.Sprintf("Failed to save session: %s", err), http.StatusInternalServerError)
		return
	}
	if err := h.store.UpsertSession(ctx, sessionID, data, time.Now().Unix()); err != nil {
		h.respondError(w, fmt.Sprintf("Failed to save session: %s", err), http.StatusInternalServerError)
		return
	}

	h.logger.Info("responses turn completed",
		"response_id", responseID, "session_id", sessionID,
		"model", req.Model, "input_tokens", inputTokens, "output_tokens", outputTokens)

	h.respondJSON(w, newResponse(responseID, req.Model, content, inputTokens, outputTokens, previousID), http.StatusOK)
}

// chatTurn replays the session as a non-streaming chat completion against a
// chat-capable downstream and returns the assistant text.
func (h *Handler) chatTurn(ctx context.Context, model string, history []SessionMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "system", "user", "assistant":
			messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		User:     "responses-api",
		Stream:   false,
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return "", domain.Operationf("Failed to encode the chat request: %s", err)
	}

	srv, err := h.picker.Pick(domain.CapabilityChat)
	if err != nil {
		return "", err
	}

	res, err := h.forwarder.Forward(ctx, proxy.Request{
		Server:      srv,
		Capability:  domain.CapabilityChat,
		Path:        "/chat/completions",
		ContentType: "application/json",
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}
	if res.Status < 200 || res.Status >= 300 {
		return "", domain.Operationf("Chat API Error: %s", string(res.Body))
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(res.Body, &completion); err != nil {
		return "", domain.Operationf("Failed to parse response: %s", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "No response content", nil
	}
	return completion.Choices[0].Message.Content, nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("json encode error", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
