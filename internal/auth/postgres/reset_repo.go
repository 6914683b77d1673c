// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

const resetColumns = `id, user_id, token_id, token_hash, expires_at, created_at, consumed_at`

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Save stores reset as the user's active request, replacing any prior one.
func (r *PasswordResetRepository) Save(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO password_resets (`+resetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (user_id) DO UPDATE
		SET id = EXCLUDED.id, token_id = EXCLUDED.token_id, token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at, consumed_at = NULL
	`, reset.ID.String(), reset.UserID.String(), reset.TokenID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		return oops.Code("RESET_SAVE_FAILED").
			With("operation", "upsert password_reset").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByUser retrieves the active reset request for a user. Inside a
// transaction the row stays locked until commit.
func (r *PasswordResetRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.PasswordReset, error) {
	query := `SELECT ` + resetColumns + ` FROM password_resets WHERE user_id = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}

	reset, err := scanReset(conn(ctx, r.db).QueryRow(ctx, query, userID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").
			With("user_id", userID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// MarkConsumed consumes the user's request if it still carries tokenHash.
func (r *PasswordResetRepository) MarkConsumed(ctx context.Context, userID ulid.ULID, tokenHash string, at time.Time) error {
	result, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE password_resets
		SET consumed_at = $3
		WHERE user_id = $1 AND token_hash = $2 AND consumed_at IS NULL
	`, userID.String(), tokenHash, at.UTC())
	if err != nil {
		return oops.Code("RESET_CONSUME_FAILED").
			With("operation", "consume password_reset").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code(auth.CodeTokenAlreadyUsed).
			With("user_id", userID.String()).
			Wrap(auth.ErrTokenAlreadyUsed)
	}
	return nil
}

// DeleteByUser removes the user's reset request.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM password_resets WHERE user_id = $1
	`, userID.String())
	if err != nil {
		return oops.Code("RESET_DELETE_BY_USER_FAILED").
			With("operation", "delete password_reset by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	// No row is a valid state.
	return nil
}

// DeleteExpired removes requests whose expiry has passed and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := conn(ctx, r.db).Exec(ctx, `
		DELETE FROM password_resets WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired password_resets").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanReset scans a single row into a PasswordReset.
// Callers are responsible for handling pgx.ErrNoRows.
func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		idStr     string
		userIDStr string
		reset     auth.PasswordReset
	)

	err := row.Scan(&idStr, &userIDStr, &reset.TokenID, &reset.TokenHash,
		&reset.ExpiresAt, &reset.CreatedAt, &reset.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with lookup context
		}
		return nil, oops.Code("RESET_SCAN_FAILED").
			With("operation", "scan password_reset").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").
			With("operation", "parse reset id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	reset.ID = id
	reset.UserID = userID
	return &reset, nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
