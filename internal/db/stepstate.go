package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlenz/conductor/internal/conductor"
)

// UpsertStepState creates or replaces the record for (run_id, step_id).
// The composite primary key guarantees at most one record per pair; the
// original created_at is preserved on conflict.
func (d *DB) UpsertStepState(ctx context.Context, s *conductor.StepState) error {
	paramsJSON, _ := json.Marshal(s.Params)
	resultJSON, _ := json.Marshal(s.Result)
	contextJSON, _ := json.Marshal(s.Context)
	metadataJSON, _ := json.Marshal(s.Metadata)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO step_states (run_id, step_id, status, params, result, error, context, metadata, retry_count, created_at, updated_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (run_id, step_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   params = EXCLUDED.params,
		   result = EXCLUDED.result,
		   error = EXCLUDED.error,
		   context = EXCLUDED.context,
		   metadata = EXCLUDED.metadata,
		   retry_count = EXCLUDED.retry_count,
		   updated_at = EXCLUDED.updated_at,
		   started_at = EXCLUDED.started_at,
		   completed_at = EXCLUDED.completed_at`,
		s.RunID, s.StepID, string(s.Status), paramsJSON, resultJSON,
		s.Error, contextJSON, metadataJSON, s.RetryCount,
		s.CreatedAt, s.UpdatedAt, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert step state: %w", err)
	}
	return nil
}

// GetStepState retrieves the record for (run_id, step_id).
func (d *DB) GetStepState(ctx context.Context, runID, stepID string) (*conductor.StepState, error) {
	s := &conductor.StepState{}
	var status string
	var paramsJSON, resultJSON, contextJSON, metadataJSON []byte

	err := d.Pool.QueryRowContext(ctx,
		`SELECT run_id, step_id, status, params, result, error, context, metadata, retry_count, created_at, updated_at, started_at, completed_at
		 FROM step_states WHERE run_id = $1 AND step_id = $2`, runID, stepID,
	).Scan(&s.RunID, &s.StepID, &status, &paramsJSON, &resultJSON,
		&s.Error, &contextJSON, &metadataJSON, &s.RetryCount,
		&s.CreatedAt, &s.UpdatedAt, &s.StartedAt, &s.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: step state %s/%s", conductor.ErrNotFound, runID, stepID)
	}
	if err != nil {
		return nil, fmt.Errorf("get step state: %w", err)
	}

	s.Status = conductor.StepStatus(status)
	unmarshalColumn(paramsJSON, &s.Params, "params", runID+"/"+stepID)
	unmarshalColumn(resultJSON, &s.Result, "result", runID+"/"+stepID)
	unmarshalColumn(contextJSON, &s.Context, "context", runID+"/"+stepID)
	unmarshalColumn(metadataJSON, &s.Metadata, "metadata", runID+"/"+stepID)
	return s, nil
}

// ListStepStates returns all step states for a run in creation order.
func (d *DB) ListStepStates(ctx context.Context, runID string) ([]*conductor.StepState, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT step_id FROM step_states WHERE run_id = $1 ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step states: %w", err)
	}
	defer rows.Close()

	var stepIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		stepIDs = append(stepIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	states := make([]*conductor.StepState, 0, len(stepIDs))
	for _, stepID := range stepIDs {
		s, err := d.GetStepState(ctx, runID, stepID)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

// DeleteStepStates removes all step states for a run.
func (d *DB) DeleteStepStates(ctx context.Context, runID string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM step_states WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete step states: %w", err)
	}
	return nil
}
