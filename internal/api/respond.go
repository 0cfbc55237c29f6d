package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mlenz/conductor/internal/conductor"
	"github.com/mlenz/conductor/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. Revision conflicts
// carry the expected and actual revisions so clients can refetch and retry.
func writeError(w http.ResponseWriter, err error) {
	var conflict *conductor.RevisionConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":             conflict.Error(),
			"session_id":        conflict.SessionID,
			"expected_revision": conflict.Expected,
			"actual_revision":   conflict.Actual,
		})
		return
	}

	var verr *conductor.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": verr.Error()})
		return
	}

	var preErr *conductor.PrerequisiteError
	if errors.As(err, &preErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   preErr.Error(),
			"step_id": preErr.StepID,
			"missing": preErr.Missing,
		})
		return
	}

	var navErr *conductor.NavigationError
	if errors.As(err, &navErr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": navErr.Error()})
		return
	}

	switch {
	case repository.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, conductor.ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

// decodeBody parses a JSON request body into v. An empty body is allowed.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
