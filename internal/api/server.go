// Package api exposes the HTTP surface: workflow definitions, runs and
// their lifecycle, wizard sessions, background jobs, and schedules.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/engine"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/services"
	"github.com/mlenz/conductor/internal/wizard"
)

type Server struct {
	defs       repository.DefinitionRepository
	runManager *services.RunManager
	navigator  *engine.Navigator
	engine     *engine.Engine
	wizardSvc  *wizard.Service
	broker     services.Broker
	scheduler  *services.Scheduler
	tracker    *services.ActionTracker
	limiter    *services.ConcurrencyLimiter
	executions *services.ExecutionRegistry
	registry   *actions.Registry
	jwtSecret  string
}

func NewServer(defs repository.DefinitionRepository, runManager *services.RunManager, navigator *engine.Navigator, eng *engine.Engine) *Server {
	return &Server{
		defs:       defs,
		runManager: runManager,
		navigator:  navigator,
		engine:     eng,
	}
}

// SetWizardService configures the wizard session endpoints.
func (s *Server) SetWizardService(svc *wizard.Service) {
	s.wizardSvc = svc
}

// SetBroker configures background run execution.
func (s *Server) SetBroker(b services.Broker) {
	s.broker = b
}

// SetScheduler configures the cron schedule endpoints.
func (s *Server) SetScheduler(sched *services.Scheduler) {
	s.scheduler = sched
}

// SetActionTracker configures the action status endpoint.
func (s *Server) SetActionTracker(t *services.ActionTracker) {
	s.tracker = t
}

// SetConcurrencyLimiter configures the stats endpoint.
func (s *Server) SetConcurrencyLimiter(l *services.ConcurrencyLimiter) {
	s.limiter = l
}

// SetExecutionRegistry configures cooperative cancellation of running runs.
func (s *Server) SetExecutionRegistry(reg *services.ExecutionRegistry) {
	s.executions = reg
}

// SetActionRegistry configures pre-flight definition validation.
func (s *Server) SetActionRegistry(reg *actions.Registry) {
	s.registry = reg
}

// SetJWTSecret enables bearer-token authentication on all API routes.
func (s *Server) SetJWTSecret(secret string) {
	s.jwtSecret = secret
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if s.jwtSecret != "" {
			r.Use(requireToken(s.jwtSecret))
		}

		r.Route("/definitions", func(r chi.Router) {
			r.Post("/", s.createDefinition)
			r.Get("/", s.listDefinitions)
			r.Get("/{id}", s.getDefinition)
			r.Delete("/{id}", s.deleteDefinition)
			r.Post("/{id}/validate", s.validateDefinition)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.createRun)
			r.Get("/", s.listRuns)
			r.Get("/{id}", s.getRun)
			r.Delete("/{id}", s.teardownRun)
			r.Get("/{id}/steps", s.listRunSteps)
			r.Post("/{id}/logs", s.appendRunLog)
			r.Post("/{id}/pause", s.pauseRun)
			r.Post("/{id}/resume", s.resumeRun)
			r.Post("/{id}/cancel", s.cancelRun)
			r.Put("/{id}/params", s.updateRunParams)
			r.Post("/{id}/next", s.runGoNext)
			r.Post("/{id}/back", s.runGoBack)
			r.Post("/{id}/jump/{stepId}", s.runJumpTo)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/{id}", s.getSession)
			r.Post("/{id}/next", s.sessionGoNext)
			r.Post("/{id}/back", s.sessionGoBack)
			r.Post("/{id}/jump/{stepId}", s.sessionJumpTo)
			r.Post("/{id}/validate", s.validateSessionInput)
			r.Post("/{id}/execute", s.executeSessionStep)
			r.Post("/{id}/complete", s.completeSessionStep)
			r.Post("/{id}/abandon", s.abandonSession)
			r.Get("/{id}/result", s.sessionResult)
		})
		r.Get("/actions/{trackingId}", s.actionStatus)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/{id}/pause", s.pauseJob)
			r.Post("/{id}/resume", s.resumeJob)
			r.Delete("/{id}", s.removeJob)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.createSchedule)
			r.Get("/", s.listSchedules)
			r.Post("/{id}/pause", s.pauseSchedule)
			r.Post("/{id}/resume", s.resumeSchedule)
			r.Delete("/{id}", s.deleteSchedule)
		})

		r.Get("/stats", s.getStats)
	})

	return r
}

// getStats returns current concurrency usage.
// GET /api/stats
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.limiter != nil {
		resp["active_runs"] = s.limiter.Active()
	}
	writeJSON(w, http.StatusOK, resp)
}
