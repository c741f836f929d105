package store

import (
	"context"
	"fmt"
)

// Schema creates every table the relay uses. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
    id UUID PRIMARY KEY,
    message_id TEXT,
    in_reply_to TEXT,
    references_header TEXT,
    reply_to_message_id UUID REFERENCES messages(id),
    direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
    email_address TEXT,
    from_email TEXT,
    recipient_email TEXT,
    subject TEXT,
    raw_text TEXT,
    raw_html TEXT,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
    ai_summary TEXT,
    ai_reply TEXT,
    input_tokens INTEGER,
    output_tokens INTEGER,
    reasoning_tokens INTEGER,
    cached_tokens INTEGER,
    ai_response_id TEXT,
    cost_usd DOUBLE PRECISION,
    ingest_ms BIGINT,
    attachment_ms BIGINT,
    upload_ms BIGINT,
    ai_ms BIGINT,
    mailer_ms BIGINT,
    sent_at TIMESTAMP WITH TIME ZONE,
    processed_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);
CREATE INDEX IF NOT EXISTS idx_messages_email_address ON messages(email_address);
CREATE INDEX IF NOT EXISTS idx_messages_reply_to ON messages(reply_to_message_id);

CREATE TABLE IF NOT EXISTS participants (
    message_id UUID NOT NULL REFERENCES messages(id),
    kind TEXT NOT NULL CHECK (kind IN ('from', 'to', 'cc')),
    name TEXT,
    email TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_participants_message_id ON participants(message_id);
CREATE INDEX IF NOT EXISTS idx_participants_email ON participants(email);

CREATE TABLE IF NOT EXISTS attachments (
    id UUID PRIMARY KEY,
    message_id UUID NOT NULL REFERENCES messages(id),
    filename TEXT NOT NULL,
    mime TEXT,
    size BIGINT NOT NULL,
    storage_key TEXT NOT NULL,
    content_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);

CREATE TABLE IF NOT EXISTS project_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    system_prompt TEXT,
    model TEXT,
    reasoning_effort TEXT,
    verbosity TEXT,
    max_output_tokens INTEGER,
    input_cost_per_mil DOUBLE PRECISION,
    output_cost_per_mil DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS email_settings (
    address TEXT PRIMARY KEY,
    system_prompt TEXT,
    model TEXT,
    reasoning_effort TEXT,
    verbosity TEXT,
    max_output_tokens INTEGER
);

CREATE TABLE IF NOT EXISTS users (
    email TEXT PRIMARY KEY,
    name TEXT,
    first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
    last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
    messages_sent INTEGER NOT NULL DEFAULT 0,
    messages_received INTEGER NOT NULL DEFAULT 0,
    opted_out BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen);
`

// Migrate creates the schema and seeds the empty project settings row.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if _, err := s.db.Exec(ctx, `INSERT INTO project_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("failed to seed project settings: %w", err)
	}
	return nil
}
