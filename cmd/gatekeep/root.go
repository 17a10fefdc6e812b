// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Gatekeep CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(nil)
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "gatekeep",
		Short: "Gatekeep - account and sign-in service",
		Long: `Gatekeep manages user accounts and sign-in: password login with lockout,
emailed two-factor codes, email confirmation, password reset, Google sign-in
and role-based claims in signed session tokens.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newSeedCmd(deps))
	cmd.AddCommand(newRoleCmd(deps))
	cmd.AddCommand(newAccountCmd(deps))
	cmd.AddCommand(newTokenCmd())

	return cmd
}

// loadConfig reads and validates the full configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
}

// loadDatabaseConfig reads the configuration and checks only what database
// commands need.
func loadDatabaseConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(config.LoadOptions{File: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, oops.Code(config.CodeConfigInvalid).With("section", "database").Wrap(err)
	}
	if err := cfg.Log.Validate(); err != nil {
		return nil, oops.Code(config.CodeConfigInvalid).With("section", "log").Wrap(err)
	}
	return cfg, nil
}

// setupLogging installs the default logger for cfg.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	return logging.SetDefault(logging.Options{
		Service: "gatekeep",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
}
