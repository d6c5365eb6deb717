package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"txledger/internal/config"
	"txledger/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigPath string
	KeysPath   string
	LogLevel   string
	JSON       bool

	cfg *config.Config
	log logger.Logger
}

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "txledger",
		Short: "Client-side ledger of submitted transactions",
		Long: `txledger submits operations to an EVM ledger, tracks each one until it
settles, and keeps the local record set consistent with the backend copy.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config/config.yml", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.KeysPath, "keys", "local/data/private_keys.txt", "path to the private keys file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print command results as JSON")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return err
		}
		cfg = config.Default()
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	o.cfg = cfg
	o.log = logger.NewColorLoggerWithLevel(logger.ParseLevel(cfg.Log.Level), os.Stderr)
	if errors.Is(err, config.ErrConfigNotFound) {
		o.log.Warn("Configuration file not found, using defaults", "path", o.ConfigPath)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(log logger.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go gracefulShutdown(ctx, cancel, log)
	return ctx, cancel
}

// gracefulShutdown handles termination signals.
func gracefulShutdown(ctx context.Context, cancel context.CancelFunc, log logger.Logger) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		log.Warn("Received termination signal", "signal", sig.String())
		log.Warn("Initiating graceful shutdown...")
		cancel()
	case <-ctx.Done():
	}
}
