package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sighting records that an address took part in a message.
type Sighting struct {
	Email  string    `json:"email"`
	Name   string    `json:"name,omitempty"`
	Sent   bool      `json:"sent"`
	SeenAt time.Time `json:"seenAt"`
}

// UpsertUser creates or refreshes the user row for a sighting.
// last_seen never moves backwards.
func (s *Store) UpsertUser(ctx context.Context, sighting Sighting) error {
	email := strings.ToLower(strings.TrimSpace(sighting.Email))
	if email == "" {
		return fmt.Errorf("%w: empty email", ErrDatabase)
	}
	seenAt := sighting.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	sent, received := 0, 1
	if sighting.Sent {
		sent, received = 1, 0
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO users (email, name, first_seen, last_seen, messages_sent, messages_received)
		VALUES ($1, NULLIF($2, ''), $3, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(users.name, EXCLUDED.name),
			last_seen = GREATEST(users.last_seen, EXCLUDED.last_seen),
			messages_sent = users.messages_sent + EXCLUDED.messages_sent,
			messages_received = users.messages_received + EXCLUDED.messages_received`,
		email, sighting.Name, seenAt, sent, received,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert user: %v", ErrDatabase, err)
	}
	return nil
}
