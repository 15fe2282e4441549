package app

import (
	"context"
	"fmt"
	"log/slog"

	"go-file-engine/internal/config"
	"go-file-engine/internal/connection"
	"go-file-engine/internal/database"
	"go-file-engine/internal/event"
	"go-file-engine/internal/repository"
	"go-file-engine/internal/retry"
	"go-file-engine/internal/service"
	"go-file-engine/internal/storage"
)

// Engine is the wired storage core shared by the server and the CLI.
type Engine struct {
	Config       *config.Config
	Bus          *event.InMemoryBus
	Registry     *storage.Registry
	Transfer     *service.TransferService
	Trash        *service.TrashLedger
	Cache        *service.CacheService
	Orchestrator *service.Orchestrator
	Jobs         *service.JobService
	Tokens       *service.TokenService

	// HealthChecks probes the stores the engine opened, keyed by name.
	HealthChecks map[string]func(ctx context.Context) error

	closers []func()
}

func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	e := &Engine{Config: cfg, Bus: event.NewBus(), HealthChecks: map[string]func(context.Context) error{}}

	var db *database.DB
	if cfg.UsesDatabase() {
		slog.Info("connecting to PostgreSQL")
		opened, err := database.New(ctx, database.Options{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		e.closers = append(e.closers, opened.Close)

		if err := opened.EnsureSchema(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		db = opened
		e.HealthChecks["postgres"] = db.Health
		slog.Info("database ready")
	}

	resources, err := openResources(cfg, db)
	if err != nil {
		e.Close()
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts
	retryCfg.InitialWait = cfg.RetryInitialWait
	retryCfg.MaxWait = cfg.RetryMaxWait

	conns := connection.NewManager()
	e.Registry = storage.NewRegistry(resources, repository.NewEnvCredentialProvider(), conns, storage.RegistryConfig{
		Pool: connection.PoolConfig{
			MaxConcurrency:    cfg.MaxConnsPerResource,
			AcquireTimeout:    cfg.ConnAcquireTimeout,
			KeepAliveInterval: cfg.ConnKeepAliveInterval,
			Retry:             retryCfg,
		},
		CloudRatePerSecond: cfg.CloudRatePerSecond,
		CloudBurst:         cfg.CloudBurst,
	})
	e.closers = append(e.closers, func() {
		if err := e.Registry.Close(); err != nil {
			slog.Warn("closing resource sessions", "error", err)
		}
	})

	e.Transfer = service.NewTransferService(service.TransferConfig{
		ChunkSize:          cfg.ChunkSizeBytes,
		LargeFileThreshold: cfg.LargeFileThreshold,
		Retry:              retryCfg,
		StagingDir:         cfg.TransferStagingDir,
	})

	trashStore, err := openTrashStore(cfg, db, e)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Trash = service.NewTrashLedger(e.Registry, trashStore, e.Transfer, cfg.TrashRetention, e.Bus)

	e.Cache, err = service.NewCacheService(service.CacheConfig{
		Dir:          cfg.CacheDir,
		MaxBytes:     cfg.CacheMaxBytes,
		EditMaxBytes: cfg.EditMaxBytes,
	}, e.Registry, e.Transfer, e.Bus)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	e.Orchestrator = service.NewOrchestrator(service.OrchestratorConfig{
		MaxParallelItems: cfg.MaxParallelItems,
		DefaultPolicy:    cfg.ConflictDefaultPolicy,
	}, e.Registry, e.Transfer, e.Trash, e.Cache, e.Bus)
	e.Jobs = service.NewJobService(e.Orchestrator, e.Bus, cfg.JobWorkers)
	e.Tokens = service.NewTokenService(cfg.JWTSecret, cfg.JWTAccessTTL)

	return e, nil
}

// Close releases sessions and database handles in reverse order of creation.
func (e *Engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func openResources(cfg *config.Config, db *database.DB) (storage.ResourceRepository, error) {
	if cfg.ResourcesSource == config.StorePostgres {
		return repository.NewResourceRepository(db.Pool), nil
	}

	repo, err := repository.NewFileResourceRepository(cfg.ResourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	return repo, nil
}

func openTrashStore(cfg *config.Config, db *database.DB, e *Engine) (service.TrashStore, error) {
	switch cfg.TrashStore {
	case config.StorePostgres:
		return repository.NewTrashRepository(db.Pool), nil
	case config.StoreSQLite:
		sqlite, err := database.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open trash database: %w", err)
		}
		e.closers = append(e.closers, func() { _ = sqlite.Close() })
		e.HealthChecks["sqlite"] = sqlite.PingContext
		if err := sqlite.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate trash database: %w", err)
		}
		return repository.NewSQLiteTrashRepository(sqlite), nil
	default:
		repo, err := repository.NewFileTrashRepository(cfg.TrashIndexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open trash index: %w", err)
		}
		return repo, nil
	}
}
