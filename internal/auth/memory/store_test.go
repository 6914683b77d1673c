// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memory"
)

func newUser(t *testing.T, username, email string) *auth.User {
	t.Helper()
	u, err := auth.NewUser(username, email, "Test User", "$argon2id$fake")
	require.NoError(t, err)
	return u
}

func TestUserRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, u))

	byName, err := repo.GetByIdentifier(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	byEmail, err := repo.GetByIdentifier(ctx, " Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byID, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", byID.Email)

	_, err = repo.GetByIdentifier(ctx, "bob")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	require.NoError(t, repo.Create(ctx, newUser(t, "alice", "alice@example.com")))

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"same username", "alice", "other@example.com"},
		{"same email", "alice2", "alice@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.Create(ctx, newUser(t, tt.username, tt.email))
			assert.ErrorIs(t, err, auth.ErrDuplicateUser)
		})
	}

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1, "failed creates leave no record")
}

func TestUserRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, u))
	u.FullName = "Mutated"

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Test User", got.FullName)
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, u))
	require.NoError(t, repo.UpdatePassword(ctx, u.ID, "new-hash"))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)

	err = repo.UpdatePassword(ctx, ulid.Make(), "x")
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestUserRepository_ConcurrentCreateAdmitsOne(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	const workers = 16
	candidates := make([]*auth.User, workers)
	for i := range candidates {
		candidates[i] = newUser(t, "racer", fmt.Sprintf("racer%d@example.com", i))
	}

	errs := make([]error, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = repo.Create(ctx, candidates[i])
		}()
	}
	close(start)
	wg.Wait()

	var ok, dupes int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, auth.ErrDuplicateUser):
			dupes++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dupes)
}

func TestUserRepository_UpdateKeepsHashAndLoginState(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, u))
	require.NoError(t, repo.UpdatePassword(ctx, u.ID, "fresh-hash"))
	until := time.Now().Add(time.Minute)
	require.NoError(t, repo.UpdateLoginState(ctx, u.ID, 2, &until))

	stale := *u
	stale.FullName = "Renamed"
	stale.Role = auth.RoleAdmin
	require.NoError(t, repo.Update(ctx, &stale))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.FullName)
	assert.Equal(t, auth.RoleAdmin, got.Role)
	assert.Equal(t, "fresh-hash", got.PasswordHash)
	assert.Equal(t, 2, got.FailedAttempts)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, until.Equal(*got.LockedUntil))

	until = until.Add(time.Hour)
	again, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, again.LockedUntil.Equal(until), "stored deadline does not alias the caller's")

	assert.ErrorIs(t, repo.UpdateLoginState(ctx, ulid.Make(), 0, nil), auth.ErrNotFound)
}

func TestUserRepository_UpgradePasswordHash(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, repo.Create(ctx, u))

	applied, err := repo.UpgradePasswordHash(ctx, u.ID, "$argon2id$fake", "upgraded")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.UpgradePasswordHash(ctx, u.ID, "$argon2id$fake", "stale")
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "upgraded", got.PasswordHash)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	users := store.Users()

	u := newUser(t, "alice", "alice@example.com")
	require.NoError(t, users.Create(ctx, u))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, users.UpdatePassword(ctx, u.ID, "changed"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$fake", got.PasswordHash)
}

func TestPasswordResetRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Resets()
	userID := ulid.Make()
	now := time.Now().UTC()

	first := &auth.PasswordReset{ID: ulid.Make(), UserID: userID, TokenHash: "hash-1", ExpiresAt: now.Add(time.Minute)}
	second := &auth.PasswordReset{ID: ulid.Make(), UserID: userID, TokenHash: "hash-2", ExpiresAt: now.Add(time.Minute)}

	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.GetByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", got.TokenHash, "a new request supersedes the old one")

	err = repo.MarkConsumed(ctx, userID, "hash-1", now)
	require.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)

	require.NoError(t, repo.MarkConsumed(ctx, userID, "hash-2", now))
	err = repo.MarkConsumed(ctx, userID, "hash-2", now)
	require.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n, "consumed requests stay until they expire")

	got, err = repo.GetByUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, got.IsConsumed())

	n, err = repo.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByUser(ctx, userID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestDenylist(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDenylist()

	require.NoError(t, d.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	require.NoError(t, d.Revoke(ctx, "jti-past", time.Now().Add(-time.Second)))

	revoked, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = d.IsRevoked(ctx, "jti-past")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = d.IsRevoked(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Equal(t, 1, d.Len())
}

func TestDenylist_SweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := memory.NewDenylist(memory.WithDenylistClock(func() time.Time { return now }))

	for i := range 100 {
		require.NoError(t, d.Revoke(ctx, fmt.Sprintf("jti-%d", i), now.Add(time.Minute)))
	}
	assert.Equal(t, 100, d.Len())

	// Logged-out tokens are rarely presented again, so nothing looks them up.
	now = now.Add(2 * time.Minute)
	require.NoError(t, d.Revoke(ctx, "jti-live", now.Add(time.Hour)))
	assert.Equal(t, 1, d.Len(), "revoking after the sweep interval drops expired entries")

	revoked, err := d.IsRevoked(ctx, "jti-live")
	require.NoError(t, err)
	assert.True(t, revoked)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, d.Sweep())
	assert.Zero(t, d.Len())
}
