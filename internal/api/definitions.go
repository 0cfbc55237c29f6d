package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/conductor"
)

// createDefinition stores a workflow definition.
// POST /api/definitions
func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	var def conductor.WorkflowDefinition
	if err := decodeBody(r, &def); err != nil {
		http.Error(w, "invalid definition JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if def.ID == "" {
		http.Error(w, "definition id is required", http.StatusBadRequest)
		return
	}
	if len(def.Steps) == 0 {
		http.Error(w, "definition must declare at least one step", http.StatusBadRequest)
		return
	}
	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" || step.Action == "" {
			http.Error(w, "every step needs an id and an action", http.StatusBadRequest)
			return
		}
		if _, dup := seen[step.ID]; dup {
			http.Error(w, "duplicate step id "+step.ID, http.StatusBadRequest)
			return
		}
		seen[step.ID] = struct{}{}
	}
	for _, step := range def.Steps {
		if step.Next != "" {
			if _, ok := seen[step.Next]; !ok {
				http.Error(w, "step "+step.ID+" points at unknown next step "+step.Next, http.StatusBadRequest)
				return
			}
		}
	}

	if err := s.defs.Create(r.Context(), &def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// listDefinitions returns all stored definitions.
// GET /api/definitions
func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.defs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs, "total": len(defs)})
}

// getDefinition returns a single definition.
// GET /api/definitions/{id}
func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.defs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// deleteDefinition removes a definition.
// DELETE /api/definitions/{id}
func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.defs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateDefinition checks every step's action against the registry and
// reports all unregistered actions at once.
// POST /api/definitions/{id}/validate
func (s *Server) validateDefinition(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "action registry not available", http.StatusNotFound)
		return
	}
	def, err := s.defs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	issues := actions.ValidateDefinition(def, s.registry)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":           len(issues) == 0,
		"issues":          issues,
		"missing_actions": actions.MissingActions(issues),
	})
}
