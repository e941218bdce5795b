// Package main is the entrypoint for the mentorlens API server. The HTTP API,
// the critique worker and the queue scheduler run in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/mentorlens/internal/api"
	"github.com/kiranshivaraju/mentorlens/internal/api/handler"
	mw "github.com/kiranshivaraju/mentorlens/internal/api/middleware"
	"github.com/kiranshivaraju/mentorlens/internal/app"
	"github.com/kiranshivaraju/mentorlens/internal/cache"
	"github.com/kiranshivaraju/mentorlens/internal/config"
	"github.com/kiranshivaraju/mentorlens/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Fail fast on invalid config.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"inference_provider", cfg.Inference.Provider,
		"model", cfg.Inference.Model,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serve(ctx, ln, svc)
}

// newRouter wires every handler to the service context.
func newRouter(svc *app.ServiceContext) http.Handler {
	checks := handler.HealthChecks{Database: svc.Store, Backend: svc.Backend}
	var limiter cache.Cache
	if svc.Cache != nil {
		checks.Cache = svc.Cache
		limiter = svc.Cache
	}

	return api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(limiter, svc.Config.Server.SubmitsPerMinute),

		HealthHandler:       handler.NewHealthHandler(checks),
		SubmitHandler:       handler.NewSubmitHandler(svc.Scheduler, svc.Images, svc.Config.Server.MaxUploadBytes),
		GetCritiqueHandler:  handler.NewGetCritiqueHandler(svc.Store),
		EventsHandler:       handler.NewEventsHandler(svc.Store, svc.Broker, svc.Config.Server.StreamFallbackTick),
		RetryHandler:        handler.NewRetryHandler(svc.Scheduler),
		ListProfilesHandler: handler.NewListProfilesHandler(svc.Store),
		MetricsHandler:      metrics.Handler(svc.Registry),
	})
}

// serve runs the HTTP server, the worker and the scheduler until ctx is done
// or one of them fails, then shuts the server down gracefully.
func serve(ctx context.Context, ln net.Listener, svc *app.ServiceContext) error {
	// Request contexts are cancelled on shutdown so open event streams end
	// instead of holding Shutdown until its timeout.
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	srv := &http.Server{
		Handler:      newRouter(svc),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return reqCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return svc.NewWorker().Run(gctx)
	})

	g.Go(func() error {
		return svc.Scheduler.Run(gctx, svc.Config.Worker.PollInterval)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}
