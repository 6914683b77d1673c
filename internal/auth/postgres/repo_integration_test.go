// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

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
	"github.com/holomush/authd/internal/auth/postgres"
)

// createTestUser stores a user and removes it when the test ends.
func createTestUser(ctx context.Context, t *testing.T, username string) *auth.User {
	t.Helper()
	user, err := auth.NewUser(username, username+"@example.com", "Test User", "testhash")
	require.NoError(t, err)
	user.CreatedAt = user.CreatedAt.Truncate(time.Microsecond)
	user.UpdatedAt = user.UpdatedAt.Truncate(time.Microsecond)

	require.NoError(t, postgres.NewUserRepository(testPool).Create(ctx, user))
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
	})
	return user
}

func TestUserRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewUserRepository(testPool)

	t.Run("round trips a user", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_roundtrip")

		stored, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Username, stored.Username)
		assert.Equal(t, user.Email, stored.Email)
		assert.Equal(t, auth.RoleAnalyst, stored.Role)
		assert.Equal(t, auth.StatusActive, stored.Status)
		assert.Nil(t, stored.LockedUntil)
	})

	t.Run("identifier lookup is case-insensitive", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_lookup")

		byName, err := repo.GetByIdentifier(ctx, "PG_Lookup")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)

		byEmail, err := repo.GetByIdentifier(ctx, "Pg_Lookup@Example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
	})

	t.Run("duplicate username or email is rejected without a partial row", func(t *testing.T) {
		createTestUser(ctx, t, "pg_dupe")

		sameName, err := auth.NewUser("pg_dupe", "other@example.com", "", "h")
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, sameName), auth.ErrDuplicateUser)

		sameEmail, err := auth.NewUser("pg_other", "pg_dupe@example.com", "", "h")
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, sameEmail), auth.ErrDuplicateUser)

		var n int
		require.NoError(t, testPool.QueryRow(ctx,
			`SELECT count(*) FROM users WHERE id = ANY($1)`,
			[]string{sameName.ID.String(), sameEmail.ID.String()}).Scan(&n))
		assert.Zero(t, n)
	})

	t.Run("login state is written apart from the hash", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_lockout")
		require.NoError(t, repo.UpdatePassword(ctx, user.ID, "fresh-hash"))

		now := time.Now()
		for range auth.LockoutThreshold {
			user.RecordFailure(now)
		}
		require.NoError(t, repo.UpdateLoginState(ctx, user.ID, user.FailedAttempts, user.LockedUntil))
		user.FullName = "Renamed"
		require.NoError(t, repo.Update(ctx, user))

		stored, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.LockoutThreshold, stored.FailedAttempts)
		assert.True(t, stored.IsLocked(now))
		assert.Equal(t, "Renamed", stored.FullName)
		assert.Equal(t, "fresh-hash", stored.PasswordHash)
	})

	t.Run("hash upgrade applies only over the verified hash", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_upgrade")

		applied, err := repo.UpgradePasswordHash(ctx, user.ID, "testhash", "upgraded")
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = repo.UpgradePasswordHash(ctx, user.ID, "testhash", "stale-upgrade")
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("concurrent creates with one username admit exactly one", func(t *testing.T) {
		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := auth.NewUser("pg_racer", fmt.Sprintf("pg_racer%d@example.com", i), "", "h")
				if err != nil {
					return
				}
				err = repo.Create(ctx, u)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, auth.ErrDuplicateUser):
					dupes++
				}
			}()
		}
		wg.Wait()
		t.Cleanup(func() {
			_, _ = testPool.Exec(ctx, `DELETE FROM users WHERE username = 'pg_racer'`)
		})

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, dupes)
	})
}

func TestPasswordResetRepository_Integration(t *testing.T) {
	ctx := context.Background()
	resets := postgres.NewPasswordResetRepository(testPool)
	tx := postgres.NewTransactor(testPool)

	newReset := func(userID ulid.ULID, token string) *auth.PasswordReset {
		now := time.Now().UTC().Truncate(time.Microsecond)
		return &auth.PasswordReset{
			ID:        ulid.Make(),
			UserID:    userID,
			TokenID:   ulid.Make().String(),
			TokenHash: auth.HashToken(token),
			ExpiresAt: now.Add(15 * time.Minute),
			CreatedAt: now,
		}
	}

	t.Run("save supersedes the previous request", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_supersede")
		require.NoError(t, resets.Save(ctx, newReset(user.ID, "first")))
		second := newReset(user.ID, "second")
		require.NoError(t, resets.Save(ctx, second))

		stored, err := resets.GetByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, second.TokenHash, stored.TokenHash)

		err = resets.MarkConsumed(ctx, user.ID, auth.HashToken("first"), time.Now())
		assert.ErrorIs(t, err, auth.ErrTokenAlreadyUsed)
	})

	t.Run("concurrent consumers see exactly one success", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_race")
		reset := newReset(user.ID, "race")
		require.NoError(t, resets.Save(ctx, reset))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			used      int
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := tx.WithinTx(ctx, func(ctx context.Context) error {
					current, err := resets.GetByUser(ctx, user.ID)
					if err != nil {
						return err
					}
					if current.IsConsumed() {
						return auth.ErrTokenAlreadyUsed
					}
					return resets.MarkConsumed(ctx, user.ID, reset.TokenHash, time.Now())
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, auth.ErrTokenAlreadyUsed):
					used++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, used)
	})

	t.Run("delete expired keeps consumed requests until they expire", func(t *testing.T) {
		live := createTestUser(ctx, t, "pg_live")
		expired := createTestUser(ctx, t, "pg_expired")
		consumed := createTestUser(ctx, t, "pg_consumed")

		require.NoError(t, resets.Save(ctx, newReset(live.ID, "live")))
		old := newReset(expired.ID, "old")
		old.CreatedAt = old.CreatedAt.Add(-time.Hour)
		old.ExpiresAt = old.CreatedAt.Add(15 * time.Minute)
		require.NoError(t, resets.Save(ctx, old))
		used := newReset(consumed.ID, "used")
		require.NoError(t, resets.Save(ctx, used))
		require.NoError(t, resets.MarkConsumed(ctx, consumed.ID, used.TokenHash, time.Now()))

		n, err := resets.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = resets.GetByUser(ctx, live.ID)
		assert.NoError(t, err)
		_, err = resets.GetByUser(ctx, expired.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		got, err := resets.GetByUser(ctx, consumed.ID)
		require.NoError(t, err)
		assert.True(t, got.IsConsumed())
	})

	t.Run("requests are removed with their user", func(t *testing.T) {
		user := createTestUser(ctx, t, "pg_cascade")
		require.NoError(t, resets.Save(ctx, newReset(user.ID, "cascade")))

		_, err := testPool.Exec(ctx, `DELETE FROM users WHERE id = $1`, user.ID.String())
		require.NoError(t, err)

		_, err = resets.GetByUser(ctx, user.ID)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
