package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mlenz/conductor/internal/conductor"
)

// CreateDefinition stores a workflow definition as a JSONB document.
func (d *DB) CreateDefinition(ctx context.Context, def *conductor.WorkflowDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, version, definition)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, version = EXCLUDED.version, definition = EXCLUDED.definition`,
		def.ID, def.Name, def.Version, doc,
	)
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a workflow definition by ID.
func (d *DB) GetDefinition(ctx context.Context, id string) (*conductor.WorkflowDefinition, error) {
	var doc []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM workflow_definitions WHERE id = $1`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: workflow definition %q", conductor.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	def := &conductor.WorkflowDefinition{}
	if err := json.Unmarshal(doc, def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// ListDefinitions returns all stored workflow definitions.
func (d *DB) ListDefinitions(ctx context.Context) ([]*conductor.WorkflowDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT definition FROM workflow_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*conductor.WorkflowDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		def := &conductor.WorkflowDefinition{}
		if err := json.Unmarshal(doc, def); err != nil {
			return nil, fmt.Errorf("decode definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// DeleteDefinition removes a workflow definition.
func (d *DB) DeleteDefinition(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	return nil
}
