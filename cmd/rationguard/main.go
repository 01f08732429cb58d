// RationGuard - Face-verified ration distribution with duplicate detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/rationguard/internal/config"
	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/logging"
	"github.com/opensource-finance/rationguard/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// flags holds the global command line overrides.
type flags struct {
	configPath string
	debug      bool
	port       int
}

func main() {
	if err := rootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:           "rationguard",
		Short:         "Face-verified ration distribution with duplicate detection",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML, JSON or TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&f.port, "port", "p", 0, "Override the HTTP listen port")

	rootCmd.AddCommand(
		serveCommand(f),
		migrateCommand(f),
		versionCommand(),
	)
	return rootCmd
}

// load reads configuration, applies flag overrides and installs the default logger.
func load(f *flags) (*domain.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if f.debug {
		cfg.Logging.Level = "debug"
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
		if err := config.Validate(cfg); err != nil {
			return nil, nil, err
		}
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func migrateCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(f)
			if err != nil {
				return err
			}

			repo, err := repository.New(cfg.Repository)
			if err != nil {
				return fmt.Errorf("failed to migrate repository: %w", err)
			}
			defer repo.Close()

			logger.Info("schema is up to date", "driver", cfg.Repository.Driver)
			return nil
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rationguard %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}
}
