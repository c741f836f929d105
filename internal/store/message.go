package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jarrod-lowe/rally-relay/internal/inbound"
)

// Direction of a message relative to the relay.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is one stored email.
type Message struct {
	ID               uuid.UUID
	MessageID        string
	InReplyTo        string
	References       string
	ReplyToMessageID *uuid.UUID
	Direction        Direction
	EmailAddress     string
	FromEmail        string
	RecipientEmail   string
	Subject          string
	RawText          string
	RawHTML          string
	AISummary        string
	AIReply          string
	ReceivedAt       time.Time
	SentAt           *time.Time
}

// AIResult holds the generation outcome written back onto an inbound row.
type AIResult struct {
	Summary         string
	Reply           string
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
	CachedTokens    int
	ResponseID      string
	CostUSD         float64
	IngestMS        int64
	AttachmentMS    int64
	UploadMS        int64
	AIMS            int64
	MailerMS        int64
	SentAt          *time.Time
	ProcessedAt     time.Time
}

// Attachment is the stored record of an uploaded attachment.
type Attachment struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	Filename   string
	MIME       string
	Size       int64
	StorageKey string
	ContentID  string
}

const messageColumns = `id, COALESCE(message_id, ''), COALESCE(in_reply_to, ''), COALESCE(references_header, ''),
	reply_to_message_id, direction, COALESCE(email_address, ''), COALESCE(from_email, ''),
	COALESCE(recipient_email, ''), COALESCE(subject, ''), COALESCE(raw_text, ''), COALESCE(raw_html, ''),
	COALESCE(ai_summary, ''), COALESCE(ai_reply, ''), received_at, sent_at`

// InsertMessage stores a new message row. A zero ID is replaced with a new one.
func (s *Store) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (
			id, message_id, in_reply_to, references_header, reply_to_message_id, direction,
			email_address, from_email, recipient_email, subject, raw_text, raw_html,
			ai_summary, ai_reply, received_at, sent_at
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6,
			$7, $8, $9, $10, $11, $12, NULLIF($13, ''), NULLIF($14, ''), $15, $16)`,
		m.ID, m.MessageID, m.InReplyTo, m.References, m.ReplyToMessageID, string(m.Direction),
		m.EmailAddress, m.FromEmail, m.RecipientEmail, m.Subject, m.RawText, m.RawHTML,
		m.AISummary, m.AIReply, m.ReceivedAt, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert message: %v", ErrDatabase, err)
	}
	return nil
}

// InsertParticipants stores every participant of a message in one batch.
func (s *Store) InsertParticipants(ctx context.Context, messageID uuid.UUID, participants []inbound.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`INSERT INTO participants (message_id, kind, name, email) VALUES ($1, $2, $3, $4)`,
			messageID, p.Kind, p.Name, strings.ToLower(strings.TrimSpace(p.Email)))
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: insert participants: %v", ErrDatabase, err)
	}
	return nil
}

// InsertAttachment stores an attachment record.
func (s *Store) InsertAttachment(ctx context.Context, a *Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO attachments (id, message_id, filename, mime, size, storage_key, content_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
		a.ID, a.MessageID, a.Filename, a.MIME, a.Size, a.StorageKey, a.ContentID,
	)
	if err != nil {
		return fmt.Errorf("%w: insert attachment: %v", ErrDatabase, err)
	}
	return nil
}

// UpdateAIResult writes the generation outcome onto an existing message row.
func (s *Store) UpdateAIResult(ctx context.Context, id uuid.UUID, r AIResult) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET
			ai_summary = $2, ai_reply = $3, input_tokens = $4, output_tokens = $5,
			reasoning_tokens = $6, cached_tokens = $7, ai_response_id = NULLIF($8, ''), cost_usd = $9,
			ingest_ms = $10, attachment_ms = $11, upload_ms = $12, ai_ms = $13, mailer_ms = $14,
			sent_at = $15, processed_at = $16
		WHERE id = $1`,
		id, r.Summary, r.Reply, r.InputTokens, r.OutputTokens,
		r.ReasoningTokens, r.CachedTokens, r.ResponseID, r.CostUSD,
		r.IngestMS, r.AttachmentMS, r.UploadMS, r.AIMS, r.MailerMS,
		r.SentAt, r.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: update ai result: %v", ErrDatabase, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMessage retrieves a message by internal id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// FindByMessageID retrieves the most recent message with the given provider Message-ID.
func (s *Store) FindByMessageID(ctx context.Context, messageID string) (*Message, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE message_id = $1 ORDER BY received_at DESC LIMIT 1`, messageID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var direction string
	err := row.Scan(
		&m.ID, &m.MessageID, &m.InReplyTo, &m.References,
		&m.ReplyToMessageID, &direction, &m.EmailAddress, &m.FromEmail,
		&m.RecipientEmail, &m.Subject, &m.RawText, &m.RawHTML,
		&m.AISummary, &m.AIReply, &m.ReceivedAt, &m.SentAt,
	)
	if err != nil {
		return nil, err
	}
	m.Direction = Direction(direction)
	return &m, nil
}
