package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/relay/internal/domain"
)

const conversationColumns = `id, COALESCE(user_id, ''), COALESCE(title, ''), model_name,
	created_at, updated_at, message_count, total_tokens,
	COALESCE(summary, ''), COALESCE(last_summary_sequence, 0),
	COALESCE(system_message, ''), COALESCE(system_message_hash, '')`

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	conv := &domain.Conversation{}
	err := row.Scan(
		&conv.ID, &conv.UserID, &conv.Title, &conv.ModelName,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.MessageCount, &conv.TotalTokens,
		&conv.Summary, &conv.LastSummarySequence,
		&conv.SystemMessage, &conv.SystemMessageHash)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, user_id, title, model_name, created_at, updated_at, message_count, total_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.ModelName,
		conv.CreatedAt, conv.UpdatedAt, conv.MessageCount, conv.TotalTokens)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	conv, err := scanConversation(s.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// GetUserLatestConversation returns the user's most recently updated conversation.
func (s *Store) GetUserLatestConversation(ctx context.Context, userID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	conv, err := scanConversation(s.conn(ctx).QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get user latest conversation: %w", err)
	}
	return conv, nil
}

// TouchConversation bumps updated_at so the conversation stays the user's latest.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	query := `UPDATE conversations SET updated_at = $2 WHERE id = $1`
	result, err := s.conn(ctx).Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}

// SetSystemMessage stores the system message when its hash differs from the
// stored one. Returns whether an update occurred. Idempotent on unchanged text.
func (s *Store) SetSystemMessage(ctx context.Context, conversationID, text, hash string) (bool, error) {
	var updated bool
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var current string
		err := s.conn(ctx).QueryRow(ctx,
			`SELECT COALESCE(system_message_hash, '') FROM conversations WHERE id = $1 FOR UPDATE`,
			conversationID).Scan(&current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrConversationNotFound
			}
			return fmt.Errorf("lock conversation: %w", err)
		}
		if current == hash {
			return nil
		}

		now := time.Now().UTC()
		_, err = s.conn(ctx).Exec(ctx,
			`UPDATE conversations SET system_message = $2, system_message_hash = $3, system_message_updated_at = $4, updated_at = $4 WHERE id = $1`,
			conversationID, text, hash, now)
		if err != nil {
			return fmt.Errorf("set system message: %w", err)
		}
		updated = true
		return nil
	})
	return updated, err
}

// UpdateSummary stores a new rolling summary and the highest sequence it covers.
func (s *Store) UpdateSummary(ctx context.Context, conversationID, summary string, lastSequence int64) error {
	query := `UPDATE conversations SET summary = $2, last_summary_sequence = $3, updated_at = $4 WHERE id = $1`
	_, err := s.conn(ctx).Exec(ctx, query, conversationID, summary, lastSequence, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// ListUserConversations returns conversation summaries for a user, newest first.
func (s *Store) ListUserConversations(ctx context.Context, userID string, limit int) ([]*domain.ConversationSummary, error) {
	query := `
		SELECT id, COALESCE(title, ''), model_name, message_count, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.conn(ctx).Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.ConversationSummary
	for rows.Next() {
		cs := &domain.ConversationSummary{}
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.ModelName, &cs.MessageCount, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

// DeleteConversation removes a conversation; messages cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.conn(ctx).Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
