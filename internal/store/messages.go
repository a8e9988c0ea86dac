package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/relay/internal/domain"
)

// NextSequence locks the conversation row and returns the next message
// sequence. Must run inside WithTx so the lock holds until commit.
func (s *Store) NextSequence(ctx context.Context, conversationID string) (int64, error) {
	var locked string
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrConversationNotFound
		}
		return 0, fmt.Errorf("lock conversation: %w", err)
	}

	var seq int64
	err = s.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

// InsertMessage writes a message and bumps the conversation counters.
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, role, content, timestamp, sequence, tokens, tool_calls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.conn(ctx).Exec(ctx, query,
		msg.ID, msg.ConversationID, msg.Role, msg.Content,
		msg.Timestamp, msg.Sequence, msg.Tokens, msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	update := `
		UPDATE conversations
		SET message_count = message_count + 1, total_tokens = total_tokens + $2, updated_at = $3
		WHERE id = $1`
	if _, err := s.conn(ctx).Exec(ctx, update, msg.ConversationID, msg.Tokens, time.Now().UTC()); err != nil {
		return fmt.Errorf("update conversation counters: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, role, content, timestamp, sequence,
	COALESCE(tokens, 0), COALESCE(tool_calls, '[]'::jsonb)`

// ListMessages returns all messages for a conversation ascending by sequence.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sequence ASC`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListRecentMessages returns the newest limit messages, ascending by sequence.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sequence DESC
		LIMIT $2`

	rows, err := s.conn(ctx).Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var msgs []*domain.Message
	for rows.Next() {
		msg := &domain.Message{}
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.Timestamp, &msg.Sequence, &msg.Tokens, &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
