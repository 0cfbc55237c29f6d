package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mlenz/conductor/internal/wizard"
)

// sessionMutation is the common request shape for revision-guarded session
// operations. Revision is optional; when present the operation fails with
// a conflict if the stored revision differs. StepID and ActionID guard
// execute/complete against a stale client view; Output carries a
// caller-supplied step output for completion without execution.
type sessionMutation struct {
	Revision *int64         `json:"revision,omitempty"`
	StepID   string         `json:"step_id,omitempty"`
	ActionID string         `json:"action_id,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
}

// createSession opens a wizard session for a definition.
// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req struct {
		DefinitionID string `json:"definition_id"`
		UserID       string `json:"user_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DefinitionID == "" {
		http.Error(w, "definition_id is required", http.StatusBadRequest)
		return
	}

	session, err := s.wizardSvc.CreateSession(r.Context(), req.DefinitionID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// getSession returns the session's full current state, revision included.
// Two clients issuing this read concurrently see the same deterministic
// snapshot for a given revision.
// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	session, err := s.wizardSvc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// sessionGoNext advances the session to the current step's next pointer.
// POST /api/sessions/{id}/next
func (s *Server) sessionGoNext(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.wizardSvc.GoNext(r.Context(), chi.URLParam(r, "id"), req.Revision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// sessionGoBack returns the session to the step it arrived from.
// POST /api/sessions/{id}/back
func (s *Server) sessionGoBack(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.wizardSvc.GoBack(r.Context(), chi.URLParam(r, "id"), req.Revision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// sessionJumpTo moves the session directly to a jumpable step.
// POST /api/sessions/{id}/jump/{stepId}
func (s *Server) sessionJumpTo(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.wizardSvc.JumpTo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepId"), req.Revision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// validateSessionInput checks input against the current step's schema
// without mutating the session. Violations come back in the body with 200.
// POST /api/sessions/{id}/validate
func (s *Server) validateSessionInput(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.wizardSvc.ValidateStepInput(r.Context(), chi.URLParam(r, "id"), req.Input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// executeSessionStep validates input and runs the current step's action.
// POST /api/sessions/{id}/execute
func (s *Server) executeSessionStep(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	exec, err := s.wizardSvc.ExecuteStep(r.Context(), chi.URLParam(r, "id"), req.Revision, wizard.ExecuteInput{
		StepID:   req.StepID,
		ActionID: req.ActionID,
		Input:    req.Input,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// completeSessionStep marks the current step completed and advances.
// POST /api/sessions/{id}/complete
func (s *Server) completeSessionStep(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.wizardSvc.MarkStepCompleted(r.Context(), chi.URLParam(r, "id"), req.Revision, req.StepID, req.Output)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// abandonSession closes a session without completing it.
// POST /api/sessions/{id}/abandon
func (s *Server) abandonSession(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	var req sessionMutation
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	session, err := s.wizardSvc.Abandon(r.Context(), chi.URLParam(r, "id"), req.Revision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// sessionResult returns the composed result of a session.
// GET /api/sessions/{id}/result
func (s *Server) sessionResult(w http.ResponseWriter, r *http.Request) {
	if s.wizardSvc == nil {
		http.Error(w, "wizard sessions not available", http.StatusNotFound)
		return
	}
	result, err := s.wizardSvc.ComposeResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// actionStatus returns the status of an executed wizard action.
// GET /api/actions/{trackingId}
func (s *Server) actionStatus(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		http.Error(w, "action tracking not available", http.StatusNotFound)
		return
	}
	rec, ok := s.tracker.Status(chi.URLParam(r, "trackingId"))
	if !ok {
		http.Error(w, "unknown tracking id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
