// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package redis provides a Redis-backed session denylist shared by every
// authd instance.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// DefaultKeyPrefix namespaces revoked token ids.
const DefaultKeyPrefix = "authd:denylist:"

// Config holds Redis denylist configuration.
type Config struct {
	// Client is an existing Redis client. If provided, Addr, Password, DB
	// and PoolSize are ignored.
	Client redis.UniversalClient

	Addr     string
	Password string
	DB       int
	PoolSize int

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string
}

// Denylist implements auth.Denylist with keys that expire alongside the
// revoked token.
type Denylist struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a Denylist.
func New(cfg Config) (*Denylist, error) {
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, oops.Code("DENYLIST_INVALID").Errorf("redis address is required")
		}
		opts := &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		client = redis.NewClient(opts)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Denylist{client: client, prefix: prefix, now: time.Now}, nil
}

// Revoke marks tokenID revoked until the given time. Tokens that already
// expired need no entry.
func (d *Denylist) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(d.now())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.prefix+tokenID, "1", ttl).Err(); err != nil {
		return oops.Code("DENYLIST_REVOKE_FAILED").
			With("token_id", tokenID).
			Wrap(err)
	}
	return nil
}

// IsRevoked reports whether tokenID is currently revoked.
func (d *Denylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+tokenID).Result()
	if err != nil {
		return false, oops.Code("DENYLIST_LOOKUP_FAILED").
			With("token_id", tokenID).
			Wrap(err)
	}
	return n > 0, nil
}

// Ping verifies the Redis connection is alive.
func (d *Denylist) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return oops.Code("DENYLIST_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close closes the Redis connection.
func (d *Denylist) Close() error {
	return d.client.Close()
}

// Compile-time interface check.
var _ auth.Denylist = (*Denylist)(nil)
