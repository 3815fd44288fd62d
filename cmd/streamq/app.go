package main

import (
	"fmt"
	"io"
	"os"

	"streamq/config"
	"streamq/logger"
	"streamq/queue"
	"streamq/queue/stream"

	"github.com/spf13/cobra"
)

// app carries what every command needs once configuration is loaded.
type app struct {
	cfg *config.Config
	lg  *logger.Logger

	logOutput io.Writer
	// openStore is replaced in tests to share one in-memory store.
	openStore func(cfg *config.Config) (stream.Store, error)
}

func newApp() *app {
	return &app{
		logOutput: os.Stdout,
		openStore: openStore,
	}
}

// load reads .env and the environment. It runs before every subcommand.
func (a *app) load(envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.cfg = cfg
	a.lg = logger.New(cfg.LogLevel, a.logOutput)
	return nil
}

func (a *app) newQueue() (*queue.Queue, error) {
	store, err := a.openStore(a.cfg)
	if err != nil {
		return nil, err
	}
	return queue.New(store, a.lg, queue.WithStopTimeout(a.cfg.StopTimeout)), nil
}

// openStore builds the store selected by STORE_BACKEND.
func openStore(cfg *config.Config) (stream.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return stream.NewMemoryStore(), nil
	case config.BackendRedis:
		return stream.NewRedisStore(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

func newRootCommand(a *app) *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "streamq",
		Short:         "At-least-once work queue on Redis Streams",
		Long:          "streamq runs consumer workers with an admin API and offers one-shot commands against a stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")

	rootCmd.AddCommand(
		newServeCommand(a),
		newAddCommand(a),
		newInfoCommand(a),
		newTrimCommand(a),
		newClaimCommand(a),
	)
	return rootCmd
}
