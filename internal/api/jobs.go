package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// listJobs returns known broker jobs newest-first. When the broker is
// degraded this is an empty list, not an error.
// GET /api/jobs
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []any{}, "total": 0})
		return
	}
	jobs, err := s.broker.Jobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "total": len(jobs)})
}

// pauseJob holds a queued job back from the workers.
// POST /api/jobs/{id}/pause
func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "broker not available", http.StatusNotFound)
		return
	}
	if err := s.broker.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resumeJob releases a paused job to the workers.
// POST /api/jobs/{id}/resume
func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "broker not available", http.StatusNotFound)
		return
	}
	if err := s.broker.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeJob removes a job. Removing an absent or finished job succeeds.
// DELETE /api/jobs/{id}
func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		http.Error(w, "broker not available", http.StatusNotFound)
		return
	}
	if err := s.broker.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
