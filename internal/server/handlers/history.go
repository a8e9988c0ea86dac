package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/relay/internal/domain"
)

const memoryDisabledMessage = "Memory system is not enabled"

// History is the slice of the memory manager the history endpoints read.
// *memory.Manager satisfies it; nil means memory is disabled.
type History interface {
	GetFullHistory(ctx context.Context, conversationID string, includeSystem bool) ([]*domain.Message, error)
	GetUserFullHistory(ctx context.Context, userID string, includeSystem bool) ([]*domain.Message, error)
	ListUserConversations(ctx context.Context, userID string, limit int) ([]*domain.ConversationSummary, error)
}

type HistoryHandler struct {
	memory History
	logger *slog.Logger
}

func NewHistoryHandler(memory History, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{memory: memory, logger: logger}
}

// Conversation handles GET /v1/conversations/{conv_id}. The export includes
// the system prompt that shaped the answers.
func (h *HistoryHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		respondError(w, memoryDisabledMessage, http.StatusServiceUnavailable)
		return
	}
	convID := chi.URLParam(r, "conv_id")

	messages, err := h.memory.GetFullHistory(r.Context(), convID, true)
	if err != nil {
		h.logger.Error("failed to get conversation history",
			"conversation_id", convID, "error", err)
		respondError(w, fmt.Sprintf("Conversation not found: %s", err), http.StatusNotFound)
		return
	}

	respondJSON(w, map[string]any{
		"conversation_id": convID,
		"messages":        messages,
	}, http.StatusOK)
}

// UserHistory handles GET /v1/users/{user_id}/history. Users with no
// conversation get an empty message list, not an error.
func (h *HistoryHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		respondError(w, memoryDisabledMessage, http.StatusServiceUnavailable)
		return
	}
	userID := chi.URLParam(r, "user_id")

	messages, err := h.memory.GetUserFullHistory(r.Context(), userID, true)
	if err != nil {
		h.logger.Error("failed to get user history", "user_id", userID, "error", err)
		respondError(w, fmt.Sprintf("Failed to retrieve user history: %s", err), http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}

	respondJSON(w, map[string]any{
		"user_id":  userID,
		"messages": messages,
	}, http.StatusOK)
}

// UserConversations handles GET /v1/users/{user_id}/conversations?limit=.
func (h *HistoryHandler) UserConversations(w http.ResponseWriter, r *http.Request) {
	if h.memory == nil {
		respondError(w, memoryDisabledMessage, http.StatusServiceUnavailable)
		return
	}
	userID := chi.URLParam(r, "user_id")
	limit := parseIntQuery(r, "limit", 0)

	conversations, err := h.memory.ListUserConversations(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("failed to list user conversations", "user_id", userID, "error", err)
		respondError(w, fmt.Sprintf("Failed to retrieve user conversations: %s", err), http.StatusInternalServerError)
		return
	}
	if conversations == nil {
		conversations = []*domain.ConversationSummary{}
	}

	respondJSON(w, map[string]any{
		"user_id":       userID,
		"conversations": conversations,
		"total":         len(conversations),
	}, http.StatusOK)
}
