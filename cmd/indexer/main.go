// Command indexer maintains advisor reference data: it imports catalogues,
// scores reference images through the inference backend and lists what is
// stored. Every write drops the affected cached reference sets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/mentorlens/internal/app"
	"github.com/kiranshivaraju/mentorlens/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(connect).ExecuteContext(ctx); err != nil {
		slog.Error("indexer failed", "error", err)
		os.Exit(1)
	}
}

// connect builds the service context from the environment.
func connect(ctx context.Context) (*app.ServiceContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(ctx, cfg)
}
