// Package thread rebuilds the reply chain of a message for prompting.
package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jarrod-lowe/rally-relay/internal/ai"
	"github.com/jarrod-lowe/rally-relay/internal/store"
)

// MaxMessages bounds the chain: the current message plus five ancestors.
const MaxMessages = 6

// MessageReader abstracts message lookups for dependency inversion.
type MessageReader interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error)
	FindByMessageID(ctx context.Context, messageID string) (*store.Message, error)
}

// Reconstructor walks reply chains through stored messages.
type Reconstructor struct {
	reader MessageReader
}

// NewReconstructor creates a new Reconstructor.
func NewReconstructor(reader MessageReader) *Reconstructor {
	return &Reconstructor{reader: reader}
}

// Chain returns the current message and up to five ancestors, oldest first.
// A missing parent or a cycle ends the walk without error.
func (r *Reconstructor) Chain(ctx context.Context, id uuid.UUID) ([]store.Message, error) {
	current, err := r.reader.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load message %s: %w", id, err)
	}

	chain := []store.Message{*current}
	visited := map[uuid.UUID]bool{current.ID: true}

	for len(chain) < MaxMessages {
		parentID := chain[len(chain)-1].InReplyTo
		if parentID == "" {
			break
		}
		parent, err := r.reader.FindByMessageID(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load parent %s: %w", parentID, err)
		}
		if visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		chain = append(chain, *parent)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].ReceivedAt.Before(chain[j].ReceivedAt)
	})
	return chain, nil
}

// History maps a chain to conversation turns, excluding currentID.
// Inbound messages become user turns and outbound messages assistant turns.
func History(chain []store.Message, currentID uuid.UUID) []ai.Turn {
	var turns []ai.Turn
	for _, m := range chain {
		if m.ID == currentID {
			continue
		}
		switch m.Direction {
		case store.Inbound:
			if m.RawText != "" {
				turns = append(turns, ai.Turn{Role: ai.RoleUser, Content: m.RawText})
			}
		case store.Outbound:
			if m.AIReply != "" {
				turns = append(turns, ai.Turn{Role: ai.RoleAssistant, Content: m.AIReply})
			}
		}
	}
	return turns
}
