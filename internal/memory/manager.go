// Package memory implements the two-tier conversation store: a durable
// per-conversation message log below an in-RAM working window with
// token-budget-driven summarization.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/longregen/relay/internal/config"
	"github.com/longregen/relay/internal/domain"
	"github.com/longregen/relay/internal/metrics"
)

// summaryTriggerRatio is the share of the context budget that, once
// exceeded, gets compressed into the summary. The keep walk retains the
// remaining share for working messages.
const summaryTriggerRatio = 0.8

// defaultListLimit bounds conversation listings when the caller passes none.
const defaultListLimit = 100

// Store is the durable side of the memory system, satisfied by *store.Store.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	GetUserLatestConversation(ctx context.Context, userID string) (*domain.Conversation, error)
	SetSystemMessage(ctx context.Context, conversationID, text, hash string) (bool, error)
	UpdateSummary(ctx context.Context, conversationID, summary string, lastSequence int64) error
	NextSequence(ctx context.Context, conversationID string) (int64, error)
	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)
	ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error)
	ListUserConversations(ctx context.Context, userID string, limit int) ([]*domain.ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error
}

// Manager coordinates the two tiers: every append lands in the store first,
// then updates the in-RAM working window, summarizing the oldest messages
// away when the window outgrows its budget.
type Manager struct {
	store      Store
	summarizer Summarizer
	cfg        config.MemoryConfig
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the working window of one conversation. Its mutex is held for
// the whole append, window update and summarize sequence, so each
// conversation has a single writer.
type entry struct {
	mu      sync.Mutex
	loaded  bool
	working []*domain.Message
	summary string
	tokens  int
}

func NewManager(st Store, summarizer Summarizer, cfg config.MemoryConfig, logger *slog.Logger) *Manager {
	return &Manager{
		store:      st,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
		entries:    make(map[string]*entry),
	}
}

func (m *Manager) entryFor(conversationID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[conversationID]
	if !ok {
		e = &entry{}
		m.entries[conversationID] = e
	}
	return e
}

func (m *Manager) drop(conversationID string) {
	m.mu.Lock()
	delete(m.entries, conversationID)
	m.mu.Unlock()
}

// hydrateLocked fills a fresh entry from the store: the conversation's
// summary plus its newest messages, up to the window size. Caller holds e.mu.
func (m *Manager) hydrateLocked(ctx context.Context, conversationID string, e *entry) error {
	if e.loaded {
		return nil
	}
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	working, err := m.store.ListRecentMessages(ctx, conversationID, m.cfg.MaxWorkingMessages)
	if err != nil {
		return err
	}
	e.working = working
	e.summary = conv.Summary
	e.tokens = totalTokens(working)
	e.loaded = true
	return nil
}

// CreateConversation starts a new conversation for the given model and
// returns its id.
func (m *Manager) CreateConversation(ctx context.Context, model, userID, title string) (string, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		ModelName: model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.entries[conv.ID] = &entry{loaded: true}
	m.mu.Unlock()
	return conv.ID, nil
}

// GetOrCreateUserConversation returns the user's most recently updated
// conversation, creating one with the given model when none exists. The
// model on an existing conversation is never overwritten, so one
// conversation follows the user across model switches.
func (m *Manager) GetOrCreateUserConversation(ctx context.Context, userID, model string) (string, error) {
	conv, err := m.store.GetUserLatestConversation(ctx, userID)
	switch {
	case err == nil:
		return conv.ID, nil
	case errors.Is(err, domain.ErrConversationNotFound):
		return m.CreateConversation(ctx, model, userID, "")
	default:
		return "", err
	}
}

// GetConversation returns conversation metadata without message content.
func (m *Manager) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return m.store.GetConversation(ctx, conversationID)
}

// SetSystemMessage stores the system prompt when its digest differs from
// the stored one. Returns whether an update occurred; idempotent on
// unchanged text.
func (m *Manager) SetSystemMessage(ctx context.Context, conversationID, text string) (bool, error) {
	return m.store.SetSystemMessage(ctx, conversationID, text, hashSystemMessage(text))
}

// hashSystemMessage digests the system prompt for change detection.
// SHA-256 truncated to 128 bits keeps the stored hash narrow.
func hashSystemMessage(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// AddUserMessage assigns the next sequence, stores the message and updates
// the working window. Returns ErrConversationNotFound when the conversation
// does not exist.
func (m *Manager) AddUserMessage(ctx context.Context, conversationID, content string) (*domain.Message, error) {
	return m.appendMessage(ctx, conversationID, newMessage(conversationID, domain.RoleUser, content, nil))
}

// AddAssistantMessage is AddUserMessage for assistant turns; toolCalls may
// be empty or carry embedded results.
func (m *Manager) AddAssistantMessage(ctx context.Context, conversationID, content string, toolCalls []domain.ToolCall) (*domain.Message, error) {
	return m.appendMessage(ctx, conversationID, newMessage(conversationID, domain.RoleAssistant, content, toolCalls))
}

func newMessage(conversationID string, role domain.Role, content string, toolCalls []domain.ToolCall) *domain.Message {
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		ToolCalls:      toolCalls,
	}
	msg.Tokens = msg.EstimateTokens()
	return msg
}

func (m *Manager) appendMessage(ctx context.Context, conversationID string, msg *domain.Message) (*domain.Message, error) {
	e := m.entryFor(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.hydrateLocked(ctx, conversationID, e); err != nil {
		m.drop(conversationID)
		return nil, err
	}

	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		seq, err := m.store.NextSequence(ctx, conversationID)
		if err != nil {
			return err
		}
		msg.Sequence = seq
		return m.store.InsertMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.Inc()

	e.working = append(e.working, msg)
	e.tokens = totalTokens(e.working)

	// A failed summarization leaves the window oversize for this turn; the
	// message itself is already stored, so the append still succeeds.
	if err := m.maintainWindowLocked(ctx, conversationID, e); err != nil {
		m.logger.Warn("summarization failed",
			"conversation_id", conversationID, "error", err)
	}
	return msg, nil
}

// maintainWindowLocked restores the working-window invariant after an
// append: when the token total or the message count exceeds its budget, the
// oldest messages are drained into the summary. Caller holds e.mu, which
// stays held across the summarizer call.
func (m *Manager) maintainWindowLocked(ctx context.Context, conversationID string, e *entry) error {
	if e.tokens <= m.cfg.MaxContextTokens && len(e.working) <= m.cfg.MaxWorkingMessages {
		return nil
	}

	if !m.cfg.AutoSummarize {
		m.logger.Debug("working window over budget, summarization disabled",
			"conversation_id", conversationID,
			"tokens", e.tokens, "messages", len(e.working))
		return nil
	}

	reason := fmt.Sprintf("message count %d > %d", len(e.working), m.cfg.MaxWorkingMessages)
	if e.tokens > m.cfg.MaxContextTokens {
		reason = fmt.Sprintf("token total %d > %d", e.tokens, m.cfg.MaxContextTokens)
	}

	keep := m.keepCount(e.working)
	drain := len(e.working) - keep
	if drain <= 0 {
		return nil
	}
	drained := e.working[:drain]

	summary, err := m.summarizer.Summarize(ctx, drained, e.summary)
	if err != nil {
		return err
	}

	lastSequence := drained[len(drained)-1].Sequence
	if err := m.store.UpdateSummary(ctx, conversationID, summary, lastSequence); err != nil {
		return err
	}

	e.working = slices.Clone(e.working[drain:])
	e.summary = summary
	e.tokens = totalTokens(e.working)
	metrics.SummarizationsTotal.Inc()

	m.logger.Info("conversation summarized",
		"conversation_id", conversationID,
		"summarized", drain,
		"kept", len(e.working),
		"last_summary_sequence", lastSequence,
		"reason", reason)
	return nil
}

// keepCount is how many of the newest messages survive a summarization
// pass: walk newest to oldest within the post-summary token budget and the
// window size, then floor at the configured minimum.
func (m *Manager) keepCount(working []*domain.Message) int {
	target := int(float64(m.cfg.MaxContextTokens) * (1 - summaryTriggerRatio))
	running, keep := 0, 0
	for i := len(working) - 1; i >= 0; i-- {
		t := working[i].EstimateTokens()
		if running+t > target || keep >= m.cfg.MaxWorkingMessages {
			break
		}
		running += t
		keep++
	}
	return max(keep, min(m.cfg.KeepRecent(), len(working)))
}

// GetWorkingMessages returns the raw working-window contents.
func (m *Manager) GetWorkingMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	e := m.entryFor(conversationID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := m.hydrateLocked(ctx, conversationID, e); err != nil {
		m.drop(conversationID)
		return nil, err
	}
	return slices.Clone(e.working), nil
}

// GetFullHistory returns every stored message ascending by sequence. With
// includeSystem, a synthetic sequence-0 system message is prepended when
// the conversation carries a system prompt.
func (m *Manager) GetFullHistory(ctx context.Context, conversationID string, includeSystem bool) ([]*domain.Message, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if includeSystem && conv.SystemMessage != "" {
		system := &domain.Message{
			ID:             "system-" + conversationID,
			ConversationID: conversationID,
			Role:           domain.RoleSystem,
			Content:        conv.SystemMessage,
			Timestamp:      conv.CreatedAt,
			Sequence:       0,
		}
		msgs = append([]*domain.Message{system}, msgs...)
	}
	return msgs, nil
}

// GetUserFullHistory resolves the user's conversation and returns its full
// history, or an empty list when the user has none.
func (m *Manager) GetUserFullHistory(ctx context.Context, userID string, includeSystem bool) ([]*domain.Message, error) {
	conv, err := m.store.GetUserLatestConversation(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return []*domain.Message{}, nil
		}
		return nil, err
	}
	return m.GetFullHistory(ctx, conv.ID, includeSystem)
}

// ListUserConversations returns the user's conversation summaries, most
// recently updated first.
func (m *Manager) ListUserConversations(ctx context.Context, userID string, limit int) ([]*domain.ConversationSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return m.store.ListUserConversations(ctx, userID, limit)
}

// DeleteConversation drops the cache entry and the row; messages cascade.
func (m *Manager) DeleteConversation(ctx context.Context, conversationID string) error {
	m.drop(conversationID)
	return m.store.DeleteConversation(ctx, conversationID)
}

func totalTokens(msgs []*domain.Message) int {
	total := 0
	for _, msg := range msgs {
		total += msg.EstimateTokens()
	}
	return total
}
