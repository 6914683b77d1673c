// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memory provides in-process implementations of the auth
// repositories for development and tests. State is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/authd/internal/auth"
)

type txKey struct{}

// Store holds users and reset requests behind a single lock.
type Store struct {
	mu     sync.Mutex
	users  map[ulid.ULID]auth.User
	resets map[ulid.ULID]auth.PasswordReset
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[ulid.ULID]auth.User),
		resets: make(map[ulid.ULID]auth.PasswordReset),
	}
}

// Users returns the user repository view of the store.
func (s *Store) Users() *UserRepository { return &UserRepository{store: s} }

// Resets returns the password reset repository view of the store.
func (s *Store) Resets() *PasswordResetRepository { return &PasswordResetRepository{store: s} }

// WithinTx runs fn while holding the store lock. Repository calls made with
// the context passed to fn reuse the held lock. If fn fails, every change it
// made is rolled back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := cloneMap(s.users)
	resets := cloneMap(s.resets)

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.users = users
		s.resets = resets
		return err
	}
	return nil
}

// lock acquires the store lock unless ctx belongs to a running WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ auth.Transactor = (*Store)(nil)
