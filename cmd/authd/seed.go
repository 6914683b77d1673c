// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/pkg/errutil"
)

// Default timeout for the seed-admin command.
const defaultSeedTimeout = 30 * time.Second

// adminPasswordEnv supplies the bootstrap password without putting it on
// the command line.
const adminPasswordEnv = "AUTHD_ADMIN_PASSWORD"

// seedConfig holds configuration for the seed-admin command.
type seedConfig struct {
	username string
	email    string
	password string
	timeout  time.Duration
}

// NewSeedAdminCmd creates the seed-admin subcommand.
func NewSeedAdminCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the bootstrap admin account",
		Long: `Creates the initial admin account. The password is read from
AUTHD_ADMIN_PASSWORD unless --admin-password is given.
This command is idempotent - an existing account with the same username
is left unchanged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return oops.With("operation", "load configuration").Wrap(err)
			}
			return runSeedAdmin(cmd, appCfg, cfg, openBackend)
		},
	}

	cmd.Flags().StringVar(&cfg.username, "admin-username", "admin", "admin username")
	cmd.Flags().StringVar(&cfg.email, "admin-email", "admin@localhost.localdomain", "admin email address")
	cmd.Flags().StringVar(&cfg.password, "admin-password", "", "admin password (default: $"+adminPasswordEnv+")")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for store operations (e.g., 30s, 1m)")
	addStorageFlags(cmd.Flags())

	return cmd
}

type backendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error)

func runSeedAdmin(cmd *cobra.Command, appCfg *config.Config, cfg *seedConfig, open backendFactory) error {
	password := cfg.password
	if password == "" {
		password = os.Getenv(adminPasswordEnv)
	}
	if password == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "admin-password").
			Errorf("admin password is required (--admin-password or %s)", adminPasswordEnv)
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	logger := logging.Setup("authd", version, appCfg.Log.Format, appCfg.Log.Level, cmd.ErrOrStderr())

	b, err := open(ctx, appCfg, logger)
	if err != nil {
		return oops.With("operation", "open backend").Wrap(err)
	}
	defer func() {
		if closeErr := b.close(); closeErr != nil {
			errutil.LogError(logger, "error closing backend", closeErr)
		}
	}()

	svcs, err := newServices(appCfg, b, logger, nil)
	if err != nil {
		return oops.With("operation", "build services").Wrap(err)
	}

	user, created, err := svcs.auth.SeedAdmin(ctx, cfg.username, cfg.email, password)
	if err != nil {
		return oops.Code("SEED_FAILED").With("username", cfg.username).Wrap(err)
	}

	if created {
		cmd.Printf("Created admin %q (%s)\n", user.Username, user.ID)
	} else {
		cmd.Printf("Admin %q already exists (%s)\n", user.Username, user.ID)
	}
	return nil
}
