// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - credential and session service",
		Long: `authd manages user credentials, issues signed session tokens and
runs the single-use password reset flow over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/authd/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedAdminCmd())

	return cmd
}

// loadConfig reads the config file, AUTHD_* environment and any flags the
// user set explicitly, then validates the result.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := load(flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // coded by config
	}
	return cfg, nil
}

// loadUnvalidated loads configuration for commands that need only part of it.
func loadUnvalidated(cmd *cobra.Command) (*config.Config, error) {
	return load(cmd.Flags())
}

// load uses --config when given, otherwise the XDG config file if present.
func load(flags *pflag.FlagSet) (*config.Config, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.DefaultConfigFile(); err != nil {
			return nil, err //nolint:wrapcheck // coded by xdg
		}
	}
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by config
	}
	return cfg, nil
}

// addStorageFlags registers the flags shared by every command that opens
// the credential store.
func addStorageFlags(flags *pflag.FlagSet) {
	defaults := config.Default()
	flags.String("storage-driver", defaults.Storage.Driver, "credential store: postgres, sqlite or memory")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("sqlite-path", defaults.SQLite.Path, "SQLite database file")
	flags.String("log-format", defaults.Log.Format, "log format (json or text)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
}
