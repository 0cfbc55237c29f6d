package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlenz/conductor/internal/conductor"
)

// CreateRun stores a new run.
func (d *DB) CreateRun(ctx context.Context, r *conductor.Run) error {
	paramsJSON, _ := json.Marshal(r.Params)
	contextJSON, _ := json.Marshal(r.Context)
	completedJSON, _ := json.Marshal(r.CompletedSteps)
	historyJSON, _ := json.Marshal(r.History)
	logsJSON, _ := json.Marshal(r.Logs)
	var pausedJSON []byte
	if r.PausedState != nil {
		pausedJSON, _ = json.Marshal(r.PausedState)
	}

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO runs (id, workflow_id, status, params, context, current_step_id, completed_steps, history, paused_state, logs, error, created_at, updated_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.WorkflowID, string(r.Status), paramsJSON, contextJSON,
		r.CurrentStepID, completedJSON, historyJSON, nullableJSON(pausedJSON),
		logsJSON, r.Error, r.CreatedAt, r.UpdatedAt, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (d *DB) GetRun(ctx context.Context, id string) (*conductor.Run, error) {
	r := &conductor.Run{}
	var status string
	var paramsJSON, contextJSON, completedJSON, historyJSON, logsJSON []byte
	var pausedJSON []byte

	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, params, context, current_step_id, completed_steps, history, paused_state, logs, error, created_at, updated_at, started_at, completed_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.WorkflowID, &status, &paramsJSON, &contextJSON,
		&r.CurrentStepID, &completedJSON, &historyJSON, &pausedJSON,
		&logsJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.StartedAt, &r.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %q", conductor.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Status = conductor.RunStatus(status)
	unmarshalColumn(paramsJSON, &r.Params, "params", id)
	unmarshalColumn(contextJSON, &r.Context, "context", id)
	unmarshalColumn(completedJSON, &r.CompletedSteps, "completed_steps", id)
	unmarshalColumn(historyJSON, &r.History, "history", id)
	unmarshalColumn(logsJSON, &r.Logs, "logs", id)
	unmarshalColumn(pausedJSON, &r.PausedState, "paused_state", id)
	return r, nil
}

// UpdateRun updates an existing run.
func (d *DB) UpdateRun(ctx context.Context, r *conductor.Run) error {
	paramsJSON, _ := json.Marshal(r.Params)
	contextJSON, _ := json.Marshal(r.Context)
	completedJSON, _ := json.Marshal(r.CompletedSteps)
	historyJSON, _ := json.Marshal(r.History)
	logsJSON, _ := json.Marshal(r.Logs)
	var pausedJSON []byte
	if r.PausedState != nil {
		pausedJSON, _ = json.Marshal(r.PausedState)
	}

	_, err := d.Pool.ExecContext(ctx,
		`UPDATE runs SET status = $1, params = $2, context = $3, current_step_id = $4, completed_steps = $5, history = $6, paused_state = $7, logs = $8, error = $9, updated_at = $10, started_at = $11, completed_at = $12
		 WHERE id = $13`,
		string(r.Status), paramsJSON, contextJSON, r.CurrentStepID,
		completedJSON, historyJSON, nullableJSON(pausedJSON), logsJSON,
		r.Error, r.UpdatedAt, r.StartedAt, r.CompletedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest-first with pagination. status filters when
// non-empty.
func (d *DB) ListRuns(ctx context.Context, limit, offset int, status string) ([]*conductor.Run, int, error) {
	var total int
	var err error
	if status == "" {
		err = d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total)
	} else {
		err = d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status = $1`, status).Scan(&total)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	var rows *sql.Rows
	if status == "" {
		rows, err = d.Pool.QueryContext(ctx,
			`SELECT id FROM runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = d.Pool.QueryContext(ctx,
			`SELECT id FROM runs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	runs := make([]*conductor.Run, 0, len(ids))
	for _, id := range ids {
		r, err := d.GetRun(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	return runs, total, nil
}

// DeleteRun removes a run row.
func (d *DB) DeleteRun(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// MarkOrphanedRunsFailed marks all running/pending runs as failed. Called
// once at startup to clean up after a crash.
func (d *DB) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = 'orphaned by restart', updated_at = NOW()
		 WHERE status IN ($2, $3)`,
		string(conductor.RunStatusFailed), string(conductor.RunStatusRunning), string(conductor.RunStatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

// nullableJSON converts an empty JSON buffer to a SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
