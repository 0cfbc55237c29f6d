package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// createRun creates a run for a definition. With background=true the run
// is handed to the broker; otherwise it executes synchronously.
// POST /api/runs
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DefinitionID string         `json:"definition_id"`
		Params       map[string]any `json:"params"`
		Background   bool           `json:"background"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DefinitionID == "" {
		http.Error(w, "definition_id is required", http.StatusBadRequest)
		return
	}

	def, err := s.defs.Get(r.Context(), req.DefinitionID)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.runManager.CreateRun(r.Context(), def, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Background {
		if s.broker == nil {
			http.Error(w, "background execution not available", http.StatusServiceUnavailable)
			return
		}
		job, err := s.broker.Enqueue(r.Context(), run.ID, def.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run": run, "job": job})
		return
	}

	if err := s.engine.Execute(r.Context(), run.ID); err != nil {
		// The run record carries the failure detail; return it alongside.
		final, gerr := s.runManager.GetRun(r.Context(), run.ID)
		if gerr == nil {
			writeJSON(w, http.StatusOK, final)
			return
		}
		writeError(w, err)
		return
	}
	final, err := s.runManager.GetRun(r.Context(), run.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

// listRuns returns runs newest-first with pagination.
// GET /api/runs?limit=20&offset=0&status=failed
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	status := r.URL.Query().Get("status")

	runs, total, err := s.runManager.ListRuns(r.Context(), limit, offset, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
}

// getRun returns a single run.
// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runManager.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// teardownRun deletes a run and its step states.
// DELETE /api/runs/{id}
func (s *Server) teardownRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runManager.TeardownRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listRunSteps returns the per-step execution records of a run.
// GET /api/runs/{id}/steps
func (s *Server) listRunSteps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.runManager.GetRun(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	states, err := s.runManager.ListStepStates(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": states, "total": len(states)})
}

// appendRunLog appends one leveled log entry to a run.
// POST /api/runs/{id}/logs
func (s *Server) appendRunLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.Level == "" {
		req.Level = "info"
	}
	if err := s.runManager.Log(r.Context(), chi.URLParam(r, "id"), req.Level, req.Message); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pauseRun snapshots and pauses a run.
// POST /api/runs/{id}/pause
func (s *Server) pauseRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runManager.PauseRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// resumeRun resumes a paused run and continues execution in the background.
// POST /api/runs/{id}/resume
func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runManager.ResumeRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.broker != nil {
		if _, err := s.broker.Enqueue(r.Context(), run.ID, run.WorkflowID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, run)
}

// cancelRun cancels a run. Cancelling a finished run is a no-op success.
// POST /api/runs/{id}/cancel
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.executions != nil {
		// Signal the executing goroutine first; the status flip below covers
		// runs that are not currently executing.
		s.executions.Cancel(id)
	}
	run, err := s.runManager.CancelRun(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// updateRunParams merges new parameters into a run.
// PUT /api/runs/{id}/params
func (s *Server) updateRunParams(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Params map[string]any `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	run, err := s.runManager.UpdateRunParams(r.Context(), chi.URLParam(r, "id"), req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runGoNext advances the run along its next pointer.
// POST /api/runs/{id}/next
func (s *Server) runGoNext(w http.ResponseWriter, r *http.Request) {
	run, err := s.navigator.GoNext(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runGoBack moves the run to the step it most recently arrived from.
// POST /api/runs/{id}/back
func (s *Server) runGoBack(w http.ResponseWriter, r *http.Request) {
	run, err := s.navigator.GoBack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// runJumpTo moves the run directly to a jumpable step.
// POST /api/runs/{id}/jump/{stepId}
func (s *Server) runJumpTo(w http.ResponseWriter, r *http.Request) {
	run, err := s.navigator.JumpTo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "stepId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// parsePagination extracts limit and offset query parameters with defaults.
func parsePagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
