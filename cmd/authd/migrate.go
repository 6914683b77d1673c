// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/store"
)

// Migrator is the part of store.Migrator the migrate commands drive.
type Migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	AppliedMigrations() ([]uint, error)
	Close() error
}

// migratorFactory creates a Migrator for a database URL. Tests replace it.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: `Apply, roll back or inspect the embedded PostgreSQL migrations.
Without a subcommand all pending migrations are applied.`,
		RunE: runMigrateUp,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (drops every authd table)",
		RunE:  runMigrateDown,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it (dirty schema recovery)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateForce,
	})

	return cmd
}

// getDatabaseURL resolves database.url from the config file, AUTHD_DATABASE_URL
// or --database-url.
func getDatabaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadUnvalidated(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database.url is required (config file, AUTHD_DATABASE_URL or --database-url)")
	}
	return cfg.Database.URL, nil
}

func withMigrator(cmd *cobra.Command, fn func(Migrator) error) error {
	databaseURL, err := getDatabaseURL(cmd)
	if err != nil {
		return err
	}

	m, err := migratorFactory(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	return fn(m)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m Migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
		}
		version, _, err := m.Version()
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
		}
		cmd.Printf("Schema is at version %d\n", version)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m Migrator) error {
		cmd.Println("Rolling back all migrations...")
		if err := m.Down(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
		}
		cmd.Println("All migrations rolled back")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m Migrator) error {
		version, dirty, err := m.Version()
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
		}
		pending, err := m.PendingMigrations()
		if err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
		}

		state := "clean"
		if dirty {
			state = "dirty (run 'authd migrate force VERSION' after fixing)"
		}
		cmd.Printf("Current version: %d, %s\n", version, state)
		if len(pending) == 0 {
			cmd.Println("No pending migrations")
			return nil
		}
		cmd.Printf("Pending migrations: %d\n", len(pending))
		for _, v := range pending {
			name, err := store.MigrationName(v)
			if err != nil || name == "" {
				name = fmt.Sprintf("%06d", v)
			}
			cmd.Printf("  %s\n", name)
		}
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m Migrator) error {
		if err := m.Force(version); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "force").With("version", version).Wrap(err)
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil
	})
}

// parseForceVersion reads a leading integer, ignoring surrounding text.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}
