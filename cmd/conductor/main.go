package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/mlenz/conductor/internal/actions"
	"github.com/mlenz/conductor/internal/api"
	"github.com/mlenz/conductor/internal/config"
	"github.com/mlenz/conductor/internal/db"
	"github.com/mlenz/conductor/internal/engine"
	"github.com/mlenz/conductor/internal/repository"
	"github.com/mlenz/conductor/internal/schema"
	"github.com/mlenz/conductor/internal/services"
	"github.com/mlenz/conductor/internal/wizard"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		serve()
		return
	}
	fmt.Println("conductor v0.1.0")
	fmt.Println("Usage: conductor serve")
}

func serve() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	memDefs := repository.NewMemoryDefinitionRepository()
	memRuns := repository.NewMemoryRunRepository()

	var (
		defs     repository.DefinitionRepository = memDefs
		runs     repository.RunRepository        = memRuns
		steps    repository.StepStateRepository  = repository.NewMemoryStepStateRepository()
		sessions repository.SessionRepository    = repository.NewMemorySessionRepository()
	)

	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		defs = repository.NewPersistentDefinitionRepository(memDefs, database)
		runs = repository.NewPersistentRunRepository(memRuns, database)
		steps = repository.NewPersistentStepStateRepository(database)
		sessions = repository.NewPersistentSessionRepository(database)
		slog.Info("using postgres persistence")
	} else {
		slog.Info("using in-memory persistence")
	}

	registry := actions.NewRegistry()
	actions.RegisterBuiltins(registry)

	manager := services.NewRunManager(runs, steps)
	manager.CleanupOrphanedRuns(ctx)

	limiter := services.NewConcurrencyLimiter(services.ConcurrencyLimits{
		GlobalMax:   cfg.Engine.GlobalMax,
		PerWorkflow: cfg.Engine.PerWorkflow,
	})
	executions := services.NewExecutionRegistry()
	eng := engine.New(defs, manager, steps, registry, limiter, executions)
	navigator := engine.NewNavigator(defs, manager)

	broker := services.NewMemoryBroker(eng.Execute, cfg.Broker.Workers)
	defer broker.Stop()

	scheduler := services.NewScheduler(func(ctx context.Context, workflowID string, params map[string]any) {
		def, err := defs.Get(ctx, workflowID)
		if err != nil {
			slog.Error("scheduled workflow not found", "workflow", workflowID, "err", err)
			return
		}
		run, err := manager.CreateRun(ctx, def, params)
		if err != nil {
			slog.Error("scheduled run creation failed", "workflow", workflowID, "err", err)
			return
		}
		if _, err := broker.Enqueue(ctx, run.ID, def.ID); err != nil {
			slog.Error("scheduled run enqueue failed", "run", run.ID, "err", err)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	tracker := services.NewActionTracker()
	wizardSvc := wizard.NewService(defs, sessions, registry, schema.NewValidator(), tracker)

	srv := api.NewServer(defs, manager, navigator, eng)
	srv.SetWizardService(wizardSvc)
	srv.SetBroker(broker)
	srv.SetScheduler(scheduler)
	srv.SetActionTracker(tracker)
	srv.SetActionRegistry(registry)
	srv.SetConcurrencyLimiter(limiter)
	srv.SetExecutionRegistry(executions)
	if cfg.Auth.JWTSecret != "" {
		srv.SetJWTSecret(cfg.Auth.JWTSecret)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting conductor server", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
