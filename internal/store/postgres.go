// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides PostgreSQL connection and schema management for authd.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection retry defaults.
const (
	DefaultConnectAttempts = 10
	DefaultConnectBackoff  = 250 * time.Millisecond
	maxConnectBackoff      = 5 * time.Second
)

type openConfig struct {
	attempts uint64
	backoff  time.Duration
	maxConns int32
	logger   *slog.Logger
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// WithConnectAttempts sets how many pings are attempted before giving up.
func WithConnectAttempts(n uint64) OpenOption {
	return func(c *openConfig) { c.attempts = n }
}

// WithConnectBackoff sets the initial delay between pings.
func WithConnectBackoff(d time.Duration) OpenOption {
	return func(c *openConfig) { c.backoff = d }
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) OpenOption {
	return func(c *openConfig) { c.maxConns = n }
}

// WithLogger sets the logger used to report connection retries.
func WithLogger(l *slog.Logger) OpenOption {
	return func(c *openConfig) { c.logger = l }
}

// Open creates a pgx pool for dsn and waits until the database answers a
// ping, backing off exponentially between attempts.
func Open(ctx context.Context, dsn string, opts ...OpenOption) (*pgxpool.Pool, error) {
	cfg := openConfig{
		attempts: DefaultConnectAttempts,
		backoff:  DefaultConnectBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.maxConns > 0 {
		poolCfg.MaxConns = cfg.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool.Ping, cfg); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForPing(ctx context.Context, ping func(context.Context) error, cfg openConfig) error {
	backoff := retry.WithCappedDuration(maxConnectBackoff, retry.NewExponential(cfg.backoff))
	if cfg.attempts > 0 {
		backoff = retry.WithMaxRetries(cfg.attempts-1, backoff)
	}

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := ping(ctx); err != nil {
			cfg.logger.WarnContext(ctx, "database not ready, retrying",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return nil
}
