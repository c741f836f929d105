package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jarrod-lowe/rally-relay/internal/settings"
)

// ProjectSettings returns the project default row, or nil when it is absent.
func (s *Store) ProjectSettings(ctx context.Context) (*settings.Project, error) {
	var p settings.Project
	err := s.db.QueryRow(ctx, `
		SELECT system_prompt, model, reasoning_effort, verbosity, max_output_tokens,
			input_cost_per_mil, output_cost_per_mil
		FROM project_settings WHERE id = 1`,
	).Scan(&p.SystemPrompt, &p.Model, &p.ReasoningEffort, &p.Verbosity, &p.MaxOutputTokens,
		&p.InputCostPerMil, &p.OutputCostPerMil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return &p, nil
}

// EmailSettings returns the override row for a rally address, or nil when it is absent.
func (s *Store) EmailSettings(ctx context.Context, address string) (*settings.Email, error) {
	e := settings.Email{Address: strings.ToLower(strings.TrimSpace(address))}
	err := s.db.QueryRow(ctx, `
		SELECT system_prompt, model, reasoning_effort, verbosity, max_output_tokens
		FROM email_settings WHERE address = $1`, e.Address,
	).Scan(&e.SystemPrompt, &e.Model, &e.ReasoningEffort, &e.Verbosity, &e.MaxOutputTokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return &e, nil
}
