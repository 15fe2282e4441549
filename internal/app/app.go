package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-file-engine/internal/config"
	"go-file-engine/internal/handler"
	"go-file-engine/internal/middleware"
	"go-file-engine/internal/router"
	"go-file-engine/internal/websocket"
)

type App struct {
	server       *http.Server
	engine       *Engine
	hub          *websocket.Hub
	background   context.Context
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	background, cancel := context.WithCancel(context.Background())

	engine, err := NewEngine(background, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	hub := websocket.NewHub(engine.Bus)
	authMiddleware := middleware.NewAuthMiddleware(engine.Tokens)

	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Operations: handler.NewOperationsHandler(engine.Orchestrator, engine.Jobs),
		Jobs:       handler.NewJobsHandler(engine.Jobs),
		Resources:  handler.NewResourcesHandler(engine.Registry),
		Cache:      handler.NewCacheHandler(engine.Cache),
		Trash:      handler.NewTrashHandler(engine.Trash),
		Health:     handler.NewHealthHandler(healthChecks(engine)),
	}, hub)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server:     server,
		engine:     engine,
		hub:        hub,
		background: background,
		cleanupFuncs: []func(){
			cancel,
			engine.Close,
		},
	}, nil
}

func (a *App) Run() error {
	go a.hub.Run(a.background)
	a.engine.Trash.StartPurgeTicker(a.background, a.engine.Config.TrashPurgeInterval)

	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func healthChecks(engine *Engine) map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck, len(engine.HealthChecks))
	for name, check := range engine.HealthChecks {
		checks[name] = check
	}
	return checks
}
