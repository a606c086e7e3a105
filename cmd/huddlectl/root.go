package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalith-99/huddle/internal/config"
	"github.com/lalith-99/huddle/internal/db"
	"github.com/lalith-99/huddle/internal/observ"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "huddlectl",
		Short: "Huddle admin tool",
		Long: `huddlectl manages a Huddle deployment. It reads the same
environment, .env and CONFIG_FILE settings as the server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(newMigrateCmd(), newTokenCmd(), newUserCmd(), newChannelCmd())
	return root
}

// env is what every command that touches the stores needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := "warn"
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger, err := observ.NewLogger(cfg.Env, level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) database(ctx context.Context) (*db.DB, error) {
	if e.cfg.Store != "postgres" {
		return nil, fmt.Errorf("STORE=%s has nothing to administer; huddlectl needs postgres", e.cfg.Store)
	}
	database, err := db.New(ctx, e.cfg.DatabaseURL, e.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return database, nil
}
