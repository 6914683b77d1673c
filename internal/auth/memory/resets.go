// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository on a Store.
type PasswordResetRepository struct {
	store *Store
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)

// Save stores reset as the user's active request.
func (r *PasswordResetRepository) Save(ctx context.Context, reset *auth.PasswordReset) error {
	defer r.store.lock(ctx)()

	r.store.resets[reset.UserID] = *cloneReset(*reset)
	return nil
}

// GetByUser retrieves the user's active request.
func (r *PasswordResetRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.PasswordReset, error) {
	defer r.store.lock(ctx)()

	reset, ok := r.store.resets[userID]
	if !ok {
		return nil, oops.Code("RESET_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	return cloneReset(reset), nil
}

// MarkConsumed consumes the request if it still carries tokenHash.
func (r *PasswordResetRepository) MarkConsumed(ctx context.Context, userID ulid.ULID, tokenHash string, at time.Time) error {
	defer r.store.lock(ctx)()

	reset, ok := r.store.resets[userID]
	if !ok || reset.TokenHash != tokenHash || reset.ConsumedAt != nil {
		return oops.Code(auth.CodeTokenAlreadyUsed).
			With("user_id", userID.String()).
			Wrap(auth.ErrTokenAlreadyUsed)
	}
	at = at.UTC()
	reset.ConsumedAt = &at
	r.store.resets[userID] = reset
	return nil
}

// DeleteByUser removes the user's request.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	defer r.store.lock(ctx)()

	delete(r.store.resets, userID)
	return nil
}

// DeleteExpired removes requests whose expiry has passed. Consumed requests
// stay until they expire so a replayed token reports as already used.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.store.lock(ctx)()

	var n int64
	for id, reset := range r.store.resets {
		if reset.IsExpiredAt(now) {
			delete(r.store.resets, id)
			n++
		}
	}
	return n, nil
}

func cloneReset(r auth.PasswordReset) *auth.PasswordReset {
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		r.ConsumedAt = &t
	}
	return &r
}
