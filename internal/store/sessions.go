package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/relay/internal/domain"
)

// UpsertSession stores a serialized Responses API session keyed by its first
// response id.
func (s *Store) UpsertSession(ctx context.Context, id string, data json.RawMessage, now int64) error {
	query := `
		INSERT INTO sessions (id, session_data, created_at, last_updated)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET
			session_data = EXCLUDED.session_data,
			last_updated = EXCLUDED.last_updated`

	_, err := s.conn(ctx).Exec(ctx, query, id, data, now)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves the serialized session by id.
func (s *Store) GetSession(ctx context.Context, id string) (json.RawMessage, error) {
	var data json.RawMessage
	err := s.conn(ctx).QueryRow(ctx, `SELECT session_data FROM sessions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return data, nil
}

// FindSessionByResponseID locates the session whose id or any stored message
// carries the given response id.
func (s *Store) FindSessionByResponseID(ctx context.Context, responseID string) (string, json.RawMessage, error) {
	query := `
		SELECT id, session_data
		FROM sessions
		WHERE id = $1 OR EXISTS (
			SELECT 1 FROM jsonb_each(session_data->'messages') AS m(idx, msg)
			WHERE msg->>'response_id' = $1
		)
		ORDER BY last_updated DESC
		LIMIT 1`

	var id string
	var data json.RawMessage
	err := s.conn(ctx).QueryRow(ctx, query, responseID).Scan(&id, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, domain.ErrSessionNotFound
		}
		return "", nil, fmt.Errorf("find session by response id: %w", err)
	}
	return id, data, nil
}

// DeleteSession removes a session. Silently succeeds when absent.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.conn(ctx).Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
