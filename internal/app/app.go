// Package app assembles the long-lived collaborators shared by the HTTP
// handlers, the worker and the scheduler.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/kiranshivaraju/mentorlens/internal/citation"
	"github.com/kiranshivaraju/mentorlens/internal/config"
	"github.com/kiranshivaraju/mentorlens/internal/images"
	"github.com/kiranshivaraju/mentorlens/internal/metrics"
	"github.com/kiranshivaraju/mentorlens/internal/queue"
	"github.com/kiranshivaraju/mentorlens/internal/retrieval"
	"github.com/kiranshivaraju/mentorlens/internal/store"
	"github.com/kiranshivaraju/mentorlens/internal/stream"
	"github.com/kiranshivaraju/mentorlens/internal/worker"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ServiceContext is built once at startup and handed to every component.
type ServiceContext struct {
	Config    *config.Config
	Pool      *pgxpool.Pool
	Store     store.Store
	Cache     *cache.RedisCache
	Broker    stream.Broker
	Backend   models.InferenceBackend
	Retriever *retrieval.BruteForce
	Passages  *retrieval.CachedPassages
	Images    images.Store
	Registry  *prometheus.Registry
	Metrics   *metrics.Collector
	Scheduler *queue.Scheduler
}

// New connects to Postgres and Redis, applies migrations and wires the
// domain components. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (_ *ServiceContext, err error) {
	svc := &ServiceContext{Config: cfg}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.Pool, err = store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	svc.Cache, err = cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := svc.Cache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	svc.Backend, err = NewBackend(cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("create inference backend: %w", err)
	}
	slog.Info("inference backend initialized", "backend", svc.Backend.Name(), "model", cfg.Inference.Model)

	svc.Images, err = images.NewLocalStore(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("create image store: %w", err)
	}

	svc.Store = store.NewPostgresStore(svc.Pool)
	svc.Broker = stream.NewRedisBroker(svc.Cache.Client())
	svc.wire(svc.Cache)
	return svc, nil
}

// NewInMemory wires the domain components over an in-memory store and an
// in-process event hub. Used by tests and single-process tooling.
func NewInMemory(cfg *config.Config, backend models.InferenceBackend, imgs images.Store) *ServiceContext {
	svc := &ServiceContext{
		Config:  cfg,
		Store:   store.NewMemoryStore(),
		Broker:  stream.NewHub(),
		Backend: backend,
		Images:  imgs,
	}
	svc.wire(nil)
	return svc
}

func (s *ServiceContext) wire(c cache.Cache) {
	cfg := s.Config
	s.Retriever = retrieval.NewBruteForce(s.Store, c, cfg.Retrieval.ProfileCacheTTL)
	s.Passages = retrieval.NewCachedPassages(s.Store, c, cfg.Retrieval.ProfileCacheTTL)

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.NewCollector(s.Registry)

	s.Scheduler = queue.New(s.Store, s.Broker, s.Metrics, queue.Options{
		StaleAfter:             cfg.Worker.StaleAfter,
		ResetRetriesOnRecovery: cfg.Worker.RecoveryResetsRetries,
		MaxRetries:             cfg.Worker.MaxRetries,
	})
}

// NewWorker returns the single background consumer.
func (s *ServiceContext) NewWorker() *worker.Worker {
	return worker.New(worker.Deps{
		Jobs:      s.Store,
		Scheduler: s.Scheduler,
		Backend:   s.Backend,
		Retriever: s.Retriever,
		Passages:  s.Passages,
		Images:    s.Images,
		Metrics:   s.Metrics,
	}, WorkerConfig(s.Config))
}

// WorkerConfig maps service configuration onto the worker's tuning knobs.
func WorkerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		PollInterval:  cfg.Worker.PollInterval,
		CallTimeout:   cfg.Inference.CallTimeout,
		ReadyInterval: cfg.Inference.ReadyInterval,
		ReadyWait:     cfg.Inference.ReadyWait,
		TopK:          cfg.Retrieval.TopK,
		MaxPassages:   cfg.Retrieval.MaxPassages,
		Limits: citation.Limits{
			MaxImages: cfg.Retrieval.MaxImageCitations,
			MaxQuotes: cfg.Retrieval.MaxQuoteCitations,
		},
		Retry: worker.RetryPolicy{
			MaxRetries: cfg.Worker.MaxRetries,
			BaseDelay:  cfg.Worker.BackoffBase,
			MaxDelay:   cfg.Worker.BackoffMax,
		},
	}
}

// Close releases the database pool and the Redis client.
func (s *ServiceContext) Close() {
	if s.Cache != nil {
		if err := s.Cache.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
