package store

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id UUID PRIMARY KEY,
    user_id TEXT,
    title TEXT,
    model_name TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    message_count BIGINT NOT NULL DEFAULT 0,
    total_tokens BIGINT NOT NULL DEFAULT 0,
    summary TEXT,
    last_summary_sequence BIGINT,
    system_message TEXT,
    system_message_hash TEXT,
    system_message_updated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    sequence BIGINT NOT NULL,
    tokens BIGINT,
    tool_calls JSONB,
    UNIQUE (conversation_id, sequence)
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    session_data JSONB NOT NULL,
    created_at BIGINT NOT NULL,
    last_updated BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conv_seq ON messages (conversation_id, sequence);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);

ALTER TABLE conversations ADD COLUMN IF NOT EXISTS user_id TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message_hash TEXT;
ALTER TABLE conversations ADD COLUMN IF NOT EXISTS system_message_updated_at TIMESTAMPTZ;
`

// EnsureSchema creates tables and indices when missing. Idempotent, runs at
// every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn(ctx).Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
