package db

import (
	"database/sql"
	"testing"
)

func TestPostgresDriverRegistered(t *testing.T) {
	// sql.Open("postgres", ...) only works if this package pulls in the
	// driver itself; callers are not expected to.
	for _, name := range sql.Drivers() {
		if name == "postgres" {
			return
		}
	}
	t.Fatalf("postgres driver not registered, have %v", sql.Drivers())
}

func TestUnmarshalColumnToleratesBadPayloads(t *testing.T) {
	var m map[string]any
	unmarshalColumn([]byte(`{"k":"v"}`), &m, "context", "run-1")
	if m["k"] != "v" {
		t.Errorf("decoded = %v, want k=v", m)
	}

	// Empty and corrupt payloads leave the destination untouched.
	var empty map[string]any
	unmarshalColumn(nil, &empty, "context", "run-1")
	if empty != nil {
		t.Errorf("empty payload decoded to %v", empty)
	}

	var corrupt map[string]any
	unmarshalColumn([]byte(`{"k":`), &corrupt, "context", "run-1")
	if corrupt != nil {
		t.Errorf("corrupt payload decoded to %v", corrupt)
	}
}
