// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// UserRepository implements auth.UserRepository on a Store.
type UserRepository struct {
	store *Store
}

var _ auth.UserRepository = (*UserRepository)(nil)

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	defer r.store.lock(ctx)()

	if err := r.checkUnique(user); err != nil {
		return err
	}
	r.store.users[user.ID] = *cloneUser(*user)
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	defer r.store.lock(ctx)()

	u, ok := r.store.users[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneUser(u), nil
}

// GetByIdentifier retrieves a user by username or email.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	defer r.store.lock(ctx)()

	identifier = auth.NormalizeIdentifier(identifier)
	for _, u := range r.store.users {
		if u.Username == identifier || u.Email == identifier {
			return cloneUser(u), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").With("identifier", identifier).Wrap(auth.ErrNotFound)
}

// List returns all users ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	defer r.store.lock(ctx)()

	out := make([]*auth.User, 0, len(r.store.users))
	for _, u := range r.store.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Compare(out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	defer r.store.lock(ctx)()

	stored, ok := r.store.users[user.ID]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", user.ID.String()).Wrap(auth.ErrNotFound)
	}
	if err := r.checkUnique(user); err != nil {
		return err
	}
	stored.Username = user.Username
	stored.Email = user.Email
	stored.FullName = user.FullName
	stored.Role = user.Role
	stored.Status = user.Status
	stored.UpdatedAt = user.UpdatedAt
	r.store.users[user.ID] = stored
	return nil
}

// UpdateLoginState writes only the failure counter and lockout deadline.
func (r *UserRepository) UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error {
	defer r.store.lock(ctx)()

	u, ok := r.store.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.FailedAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	r.store.users[id] = *cloneUser(u)
	return nil
}

// UpgradePasswordHash replaces the hash only while it still equals oldHash.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	defer r.store.lock(ctx)()

	u, ok := r.store.users[id]
	if !ok || u.PasswordHash != oldHash {
		return false, nil
	}
	u.PasswordHash = newHash
	r.store.users[id] = u
	return true, nil
}

// UpdatePassword updates only the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	defer r.store.lock(ctx)()

	u, ok := r.store.users[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	r.store.users[id] = u
	return nil
}

// checkUnique rejects user if another record holds its username or email.
// Caller holds the lock.
func (r *UserRepository) checkUnique(user *auth.User) error {
	for id, u := range r.store.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username || u.Email == user.Email {
			return oops.Code(auth.CodeDuplicateUser).
				With("username", user.Username).
				Wrap(auth.ErrDuplicateUser)
		}
	}
	return nil
}

// cloneUser returns a copy of u that shares no pointers with the stored record.
func cloneUser(u auth.User) *auth.User {
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		u.LockedUntil = &t
	}
	return &u
}
