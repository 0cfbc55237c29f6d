// Package db implements the PostgreSQL persistence layer.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // registers the postgres driver
)

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New creates a new database connection.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// unmarshalColumn decodes a JSONB column into dst. A corrupt payload is
// logged and leaves dst zeroed rather than failing the whole read, so one
// bad row cannot take a list endpoint down.
func unmarshalColumn(data []byte, dst any, column, id string) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Warn("corrupt jsonb column", "column", column, "id", id, "err", err)
	}
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    workflow_id     TEXT NOT NULL,
    status          TEXT NOT NULL,
    params          JSONB NOT NULL DEFAULT '{}',
    context         JSONB NOT NULL DEFAULT '{}',
    current_step_id TEXT NOT NULL DEFAULT '',
    completed_steps JSONB NOT NULL DEFAULT '[]',
    history         JSONB NOT NULL DEFAULT '[]',
    paused_state    JSONB,
    logs            JSONB NOT NULL DEFAULT '[]',
    error           TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_workflow_id ON runs(workflow_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS step_states (
    run_id       TEXT NOT NULL,
    step_id      TEXT NOT NULL,
    status       TEXT NOT NULL,
    params       JSONB NOT NULL DEFAULT '{}',
    result       JSONB,
    error        TEXT,
    context      JSONB,
    metadata     JSONB NOT NULL DEFAULT '{}',
    retry_count  INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    PRIMARY KEY (run_id, step_id)
);

CREATE TABLE IF NOT EXISTS wizard_sessions (
    session_id         TEXT PRIMARY KEY,
    definition_id      TEXT NOT NULL,
    definition_version INTEGER NOT NULL DEFAULT 1,
    user_id            TEXT NOT NULL DEFAULT '',
    current_step_id    TEXT NOT NULL DEFAULT '',
    completed_steps    JSONB NOT NULL DEFAULT '[]',
    step_outputs       JSONB NOT NULL DEFAULT '{}',
    context            JSONB NOT NULL DEFAULT '{}',
    history            JSONB NOT NULL DEFAULT '[]',
    status             TEXT NOT NULL,
    revision           BIGINT NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_wizard_sessions_definition ON wizard_sessions(definition_id);
`
