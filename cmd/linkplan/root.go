package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"linkplan.ai/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkplan",
		Short:         "Plan and place connector chains between waypoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "linkplan.yaml", "config file; defaults apply when it does not exist")
	root.AddCommand(connectCmd(), catalogCmd(), attemptsCmd(), journalCmd())
	return root
}

func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return newRootCmd().ExecuteContext(ctx)
}

// loadConfig reads --config, falling back to defaults when the file is absent.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Defaults()
		return cfg, cfg.Validate()
	}
	return cfg, err
}
