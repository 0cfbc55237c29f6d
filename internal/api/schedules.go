package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mlenz/conductor/internal/services"
)

// createSchedule registers a cron schedule for a workflow.
// POST /api/schedules
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	var req struct {
		WorkflowID string         `json:"workflow_id"`
		CronExpr   string         `json:"cron_expr"`
		Timezone   string         `json:"timezone"`
		Params     map[string]any `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid request JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.WorkflowID == "" || req.CronExpr == "" {
		http.Error(w, "workflow_id and cron_expr are required", http.StatusBadRequest)
		return
	}
	if _, err := s.defs.Get(r.Context(), req.WorkflowID); err != nil {
		writeError(w, err)
		return
	}

	schedule := &services.Schedule{
		WorkflowID: req.WorkflowID,
		CronExpr:   req.CronExpr,
		Timezone:   req.Timezone,
		Params:     req.Params,
	}
	if err := s.scheduler.Add(schedule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, schedule)
}

// listSchedules returns all registered schedules.
// GET /api/schedules
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, map[string]any{"schedules": []any{}, "total": 0})
		return
	}
	schedules := s.scheduler.List()
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "total": len(schedules)})
}

// pauseSchedule stops a schedule from triggering.
// POST /api/schedules/{id}/pause
func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	if err := s.scheduler.Pause(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resumeSchedule re-enables a paused schedule.
// POST /api/schedules/{id}/resume
func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	if err := s.scheduler.Resume(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteSchedule removes a schedule. Removing an unknown id is a no-op.
// DELETE /api/schedules/{id}
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "scheduler not available", http.StatusNotFound)
		return
	}
	s.scheduler.Remove(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
