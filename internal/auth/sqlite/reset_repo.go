// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/holomush/authd/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository using GORM.
type PasswordResetRepository struct {
	db *gorm.DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db *gorm.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Save stores reset as the user's active request, replacing any prior one.
func (r *PasswordResetRepository) Save(ctx context.Context, reset *auth.PasswordReset) error {
	m := resetModel{
		ID:        reset.ID.String(),
		UserID:    reset.UserID.String(),
		TokenID:   reset.TokenID,
		TokenHash: reset.TokenHash,
		ExpiresAt: reset.ExpiresAt.UTC(),
		CreatedAt: reset.CreatedAt.UTC(),
	}
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "token_id", "token_hash", "expires_at", "created_at", "consumed_at"}),
	}).Create(&m).Error
	if err != nil {
		return oops.Code("RESET_SAVE_FAILED").
			With("user_id", m.UserID).
			Wrap(err)
	}
	return nil
}

// GetByUser retrieves the active reset request for a user. SQLite
// serializes writers, so the surrounding transaction is the lock.
func (r *PasswordResetRepository) GetByUser(ctx context.Context, userID ulid.ULID) (*auth.PasswordReset, error) {
	var m resetModel
	err := conn(ctx, r.db).Take(&m, "user_id = ?", userID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oops.Code("RESET_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_QUERY_FAILED").With("user_id", userID.String()).Wrap(err)
	}

	id, err := ulid.Parse(m.ID)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", m.ID).Wrap(err)
	}
	return &auth.PasswordReset{
		ID:         id,
		UserID:     userID,
		TokenID:    m.TokenID,
		TokenHash:  m.TokenHash,
		ExpiresAt:  m.ExpiresAt,
		CreatedAt:  m.CreatedAt,
		ConsumedAt: m.ConsumedAt,
	}, nil
}

// MarkConsumed consumes the user's request if it still carries tokenHash.
func (r *PasswordResetRepository) MarkConsumed(ctx context.Context, userID ulid.ULID, tokenHash string, at time.Time) error {
	result := conn(ctx, r.db).Model(&resetModel{}).
		Where("user_id = ? AND token_hash = ? AND consumed_at IS NULL", userID.String(), tokenHash).
		Update("consumed_at", at.UTC())
	if err := result.Error; err != nil {
		return oops.Code("RESET_CONSUME_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	if result.RowsAffected == 0 {
		return oops.Code(auth.CodeTokenAlreadyUsed).
			With("user_id", userID.String()).
			Wrap(auth.ErrTokenAlreadyUsed)
	}
	return nil
}

// DeleteByUser removes the user's reset request.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	err := conn(ctx, r.db).Where("user_id = ?", userID.String()).Delete(&resetModel{}).Error
	if err != nil {
		return oops.Code("RESET_DELETE_BY_USER_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return nil
}

// DeleteExpired removes requests whose expiry has passed and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := conn(ctx, r.db).
		Where("expires_at <= ?", now.UTC()).
		Delete(&resetModel{})
	if err := result.Error; err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected, nil
}

// Compile-time interface check.
var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
