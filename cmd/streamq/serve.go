package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"streamq/api/server"
	"streamq/config"
	"streamq/handlers"
	"streamq/logger"
	"streamq/queue"
	"streamq/workers"

	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run consumers and the admin HTTP API until interrupted",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, lg := a.cfg, a.lg

	lg.Info("Starting streamq", map[string]any{
		"version":   cfg.Version,
		"port":      cfg.ServerPort,
		"log_level": cfg.LogLevel,
		"backend":   cfg.StoreBackend,
		"stream":    cfg.StreamKey,
		"group":     cfg.ConsumerGroup,
	})

	q, err := a.newQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	registry, err := createHandlerRegistry(cfg, q, lg)
	if err != nil {
		return err
	}

	pool := workers.NewPool(workers.PoolConfig{
		StreamKey:     cfg.StreamKey,
		Group:         cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
		ConsumerCount: cfg.ConsumerCount,
		Options:       listenOptions(cfg),
	}, q, registry, lg)
	pool.SetShutdownTimeout(cfg.ShutdownTimeout)

	pool.Start(ctx)
	defer pool.Stop()

	srv := server.New(q, registry, pool, cfg, lg)
	return srv.Start(ctx)
}

// createHandlerRegistry sets up all message handlers
func createHandlerRegistry(cfg *config.Config, results handlers.Appender, lg *logger.Logger) (*handlers.Registry, error) {
	registry := handlers.NewRegistry()
	registry.Register("print", handlers.NewPrintHandler(lg))
	registry.Register("sleep", handlers.NewSleepHandler(lg))

	if cfg.SummarizerURL != "" {
		summarizer, err := handlers.NewSummarizeHandler(handlers.SummarizerConfig{
			BaseURL:      cfg.SummarizerURL,
			Model:        cfg.SummarizerModel,
			APIKey:       cfg.SummarizerAPIKey,
			ResultStream: cfg.ResultStream,
		}, results, lg)
		if err != nil {
			return nil, err
		}
		registry.Register("summarize", summarizer)
	}

	lg.Info("Registered message handlers", map[string]any{
		"count": len(registry.GetRegisteredTypes()),
		"types": registry.GetRegisteredTypes(),
	})

	return registry, nil
}

// listenOptions maps configuration onto consumer loop options. Settings
// without an environment key keep their defaults.
func listenOptions(cfg *config.Config) queue.ListenOptions {
	opts := queue.DefaultListenOptions()
	opts.BatchSize = cfg.BatchSize
	opts.Concurrency = cfg.Concurrency
	opts.MaxRetries = cfg.MaxRetries
	opts.PollDelay = cfg.PollDelay
	opts.ClaimIdleThreshold = cfg.ClaimIdleThreshold
	opts.ReclaimInterval = cfg.ReclaimInterval
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.CreateStreamIfMissing = cfg.CreateStreamIfMissing
	opts.ClaimPendingOnStartup = cfg.ClaimPendingOnStartup
	return opts
}
