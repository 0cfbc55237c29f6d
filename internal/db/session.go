package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlenz/conductor/internal/conductor"
)

// CreateSession stores a new wizard session.
func (d *DB) CreateSession(ctx context.Context, s *conductor.WizardSession) error {
	completedJSON, _ := json.Marshal(s.CompletedSteps)
	outputsJSON, _ := json.Marshal(s.StepOutputs)
	contextJSON, _ := json.Marshal(s.Context)
	historyJSON, _ := json.Marshal(s.History)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO wizard_sessions (session_id, definition_id, definition_version, user_id, current_step_id, completed_steps, step_outputs, context, history, status, revision, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.SessionID, s.DefinitionID, s.DefinitionVersion, s.UserID,
		s.CurrentStepID, completedJSON, outputsJSON, contextJSON, historyJSON,
		string(s.Status), s.Revision, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a wizard session by ID.
func (d *DB) GetSession(ctx context.Context, id string) (*conductor.WizardSession, error) {
	return d.getSession(ctx, d.Pool.QueryRowContext, id)
}

type rowQuerier func(ctx context.Context, query string, args ...any) *sql.Row

func (d *DB) getSession(ctx context.Context, queryRow rowQuerier, id string) (*conductor.WizardSession, error) {
	s := &conductor.WizardSession{}
	var status string
	var completedJSON, outputsJSON, contextJSON, historyJSON []byte

	err := queryRow(ctx,
		`SELECT session_id, definition_id, definition_version, user_id, current_step_id, completed_steps, step_outputs, context, history, status, revision, created_at, updated_at
		 FROM wizard_sessions WHERE session_id = $1`, id,
	).Scan(&s.SessionID, &s.DefinitionID, &s.DefinitionVersion, &s.UserID,
		&s.CurrentStepID, &completedJSON, &outputsJSON, &contextJSON, &historyJSON,
		&status, &s.Revision, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %q", conductor.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s.Status = conductor.SessionStatus(status)
	unmarshalColumn(completedJSON, &s.CompletedSteps, "completed_steps", id)
	unmarshalColumn(outputsJSON, &s.StepOutputs, "step_outputs", id)
	unmarshalColumn(contextJSON, &s.Context, "context", id)
	unmarshalColumn(historyJSON, &s.History, "history", id)
	return s, nil
}

// UpdateSession applies mutate to the stored session under a row lock, so
// the revision check and the write are one atomic unit at the persistence
// layer. When expected is non-nil and differs from the stored revision it
// returns *conductor.RevisionConflictError without applying anything. On
// success the stored revision is incremented by exactly one.
func (d *DB) UpdateSession(ctx context.Context, id string, expected *int64, mutate func(*conductor.WizardSession) error) (*conductor.WizardSession, error) {
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}
	defer tx.Rollback()

	s, err := d.getSession(ctx, func(ctx context.Context, query string, args ...any) *sql.Row {
		return tx.QueryRowContext(ctx, query+" FOR UPDATE", args...)
	}, id)
	if err != nil {
		return nil, err
	}

	if expected != nil && *expected != s.Revision {
		return nil, &conductor.RevisionConflictError{
			SessionID: id,
			Expected:  *expected,
			Actual:    s.Revision,
		}
	}

	if err := mutate(s); err != nil {
		return nil, err
	}
	s.Revision++

	completedJSON, _ := json.Marshal(s.CompletedSteps)
	outputsJSON, _ := json.Marshal(s.StepOutputs)
	contextJSON, _ := json.Marshal(s.Context)
	historyJSON, _ := json.Marshal(s.History)

	_, err = tx.ExecContext(ctx,
		`UPDATE wizard_sessions SET current_step_id = $1, completed_steps = $2, step_outputs = $3, context = $4, history = $5, status = $6, revision = $7, updated_at = NOW()
		 WHERE session_id = $8`,
		s.CurrentStepID, completedJSON, outputsJSON, contextJSON, historyJSON,
		string(s.Status), s.Revision, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return s, nil
}
