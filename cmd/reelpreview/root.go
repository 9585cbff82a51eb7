package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/reelpreview/internal/config"
	"github.com/satindergrewal/reelpreview/internal/logging"
	"github.com/satindergrewal/reelpreview/internal/timeline"
)

const (
	databaseName = "reelpreview.db"
	lockName     = "reelpreview.lock"
)

// commandContext carries the lazily loaded configuration shared by
// subcommands.
type commandContext struct {
	configPath *string
	cfg        *config.Config
	logger     *slog.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}
	c.cfg, c.logger = cfg, logger
	return cfg, nil
}

// lockDataDir takes the single-instance lock on the data directory.
func (c *commandContext) lockDataDir() (*flock.Flock, error) {
	dir := c.cfg.Server.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("data directory %s is in use by another reelpreview process", dir)
	}
	return lock, nil
}

func (c *commandContext) openStore() (*timeline.SQLiteStore, error) {
	path := filepath.Join(c.cfg.Server.DataDir, databaseName)
	return timeline.OpenSQLite(path, logging.WithComponent(c.logger, "timeline"))
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configPath: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "reelpreview",
		Short:         "Narrated slideshow preview engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "reelpreview.toml", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSegmentsCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newProbeCommand(ctx))

	return rootCmd
}
