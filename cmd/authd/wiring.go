// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/auth/postgres"
	authredis "github.com/holomush/authd/internal/auth/redis"
	"github.com/holomush/authd/internal/auth/sqlite"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/mail"
	"github.com/holomush/authd/internal/store"
	"github.com/holomush/authd/internal/xdg"
)

// backend bundles the stateful collaborators built from configuration.
type backend struct {
	users    auth.UserRepository
	resets   auth.PasswordResetRepository
	tx       auth.Transactor
	denylist auth.Denylist
	notifier auth.ResetNotifier

	checks  []func(context.Context) error
	closers []func() error
}

// ping runs every health check and joins the failures.
func (b *backend) ping(ctx context.Context) error {
	var errs []error
	for _, check := range b.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// close releases resources in reverse order of acquisition.
func (b *backend) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openBackend opens the configured credential store, denylist and reset
// notifier. On error everything already opened is closed.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			if closeErr := b.close(); closeErr != nil {
				logger.Warn("cleanup after failed startup", "error", closeErr)
			}
		}
	}()

	if err := b.openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := b.openDenylist(ctx, cfg); err != nil {
		return nil, err
	}
	if err := b.openNotifier(cfg, logger); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backend) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := store.Open(ctx, cfg.Database.URL,
			store.WithMaxConns(cfg.Database.MaxConns),
			store.WithLogger(logger))
		if err != nil {
			return err //nolint:wrapcheck // coded by store
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		b.checks = append(b.checks, pool.Ping)
		b.users = postgres.NewUserRepository(pool)
		b.resets = postgres.NewPasswordResetRepository(pool)
		b.tx = postgres.NewTransactor(pool)

	case config.DriverSQLite:
		if err := xdg.EnsureDir(filepath.Dir(cfg.SQLite.Path)); err != nil {
			return err //nolint:wrapcheck // coded by xdg
		}
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return err //nolint:wrapcheck // coded by sqlite
		}
		b.closers = append(b.closers, func() error { return sqlite.Close(db) })
		b.checks = append(b.checks, func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return oops.Code("SQLITE_UNAVAILABLE").Wrap(err)
			}
			return sqlDB.PingContext(ctx)
		})
		b.users = sqlite.NewUserRepository(db)
		b.resets = sqlite.NewPasswordResetRepository(db)
		b.tx = sqlite.NewTransactor(db)

	case config.DriverMemory:
		logger.Warn("using in-memory credential store; accounts are lost on restart")
		st := memory.New()
		b.users = st.Users()
		b.resets = st.Resets()
		b.tx = st

	default:
		return oops.Code("CONFIG_INVALID").With("driver", cfg.Storage.Driver).Errorf("unknown storage driver")
	}
	return nil
}

func (b *backend) openDenylist(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.Addr == "" {
		b.denylist = memory.NewDenylist()
		return nil
	}

	dl, err := authredis.New(authredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err //nolint:wrapcheck // coded by redis
	}
	b.closers = append(b.closers, dl.Close)
	if err := dl.Ping(ctx); err != nil {
		return err //nolint:wrapcheck // coded by redis
	}
	b.checks = append(b.checks, dl.Ping)
	b.denylist = dl
	return nil
}

func (b *backend) openNotifier(cfg *config.Config, logger *slog.Logger) error {
	if cfg.SMTP.Host == "" {
		logger.Warn("smtp.host not set; password reset links are logged instead of emailed")
		b.notifier = mail.NewLogNotifier(logger)
		return nil
	}

	n, err := mail.NewSMTPNotifier(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		TLS:      cfg.SMTP.TLS,
		Timeout:  cfg.SMTP.Timeout,
		Attempts: cfg.SMTP.Attempts,
	}, logger)
	if err != nil {
		return err //nolint:wrapcheck // coded by mail
	}
	b.notifier = n
	return nil
}

// services are the domain services built on a backend.
type services struct {
	auth   *auth.Service
	resets *auth.PasswordResetService
	guard  *auth.Guard
}

func newServices(cfg *config.Config, b *backend, logger *slog.Logger, observer auth.Observer) (*services, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Memory:      cfg.Hasher.Memory,
		Iterations:  cfg.Hasher.Iterations,
		Parallelism: cfg.Hasher.Parallelism,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	issuer, err := auth.NewTokenIssuer([]byte(cfg.JWT.Secret),
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithResetTTL(cfg.Reset.TTL))
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	policy := auth.PasswordPolicy{
		MinLength:         cfg.Password.MinLength,
		RequireComplexity: cfg.Password.RequireComplexity,
	}

	svcOpts := []auth.ServiceOption{
		auth.WithLogger(logger),
		auth.WithPasswordPolicy(policy),
		auth.WithResetRepository(b.resets, b.tx),
	}
	resetOpts := []auth.ResetOption{
		auth.WithResetLogger(logger),
		auth.WithResetPolicy(policy),
		auth.WithResetBaseURL(cfg.Reset.BaseURL),
		auth.WithNotifyTimeout(cfg.SMTP.Timeout),
	}
	if observer != nil {
		svcOpts = append(svcOpts, auth.WithObserver(observer))
		resetOpts = append(resetOpts, auth.WithResetObserver(observer))
	}

	svc, err := auth.NewAuthService(b.users, hasher, issuer, b.denylist, svcOpts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	resets, err := auth.NewPasswordResetService(b.users, b.resets, b.tx, issuer, hasher, b.notifier, resetOpts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	guard, err := auth.NewGuard(issuer, b.users, b.denylist, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck // coded by auth
	}

	return &services{auth: svc, resets: resets, guard: guard}, nil
}
