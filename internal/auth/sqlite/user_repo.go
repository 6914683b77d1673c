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

	"github.com/holomush/authd/internal/auth"
)

// UserRepository implements auth.UserRepository using GORM.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	m := toUserModel(user)
	if err := conn(ctx, r.db).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return oops.Code(auth.CodeDuplicateUser).
				With("username", user.Username).
				Wrap(auth.ErrDuplicateUser)
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	var m userModel
	err := conn(ctx, r.db).First(&m, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("id", id.String()).Wrap(err)
	}
	return m.toUser()
}

// GetByIdentifier retrieves a user by username or email.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	identifier = auth.NormalizeIdentifier(identifier)

	var m userModel
	err := conn(ctx, r.db).
		Where("username = ? OR email = ?", identifier, identifier).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("identifier", identifier).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("identifier", identifier).Wrap(err)
	}
	return m.toUser()
}

// List returns all users ordered by creation time.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	var models []userModel
	if err := conn(ctx, r.db).Order("created_at, id").Find(&models).Error; err != nil {
		return nil, oops.Code("USER_LIST_FAILED").With("operation", "list users").Wrap(err)
	}

	users := make([]*auth.User, 0, len(models))
	for i := range models {
		u, err := models[i].toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Update writes the profile fields of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	m := toUserModel(user)
	result := conn(ctx, r.db).Model(&userModel{}).Where("id = ?", m.ID).
		Select("username", "email", "full_name", "role", "status", "updated_at").
		Updates(&m)
	if err := result.Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return oops.Code(auth.CodeDuplicateUser).
				With("username", user.Username).
				Wrap(auth.ErrDuplicateUser)
		}
		return oops.Code("USER_UPDATE_FAILED").With("id", m.ID).Wrap(err)
	}
	if result.RowsAffected == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", m.ID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdateLoginState writes only the failure counter and lockout deadline.
func (r *UserRepository) UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error {
	var until *time.Time
	if lockedUntil != nil {
		t := lockedUntil.UTC()
		until = &t
	}
	result := conn(ctx, r.db).Model(&userModel{}).Where("id = ?", id.String()).
		Updates(map[string]any{"failed_attempts": failedAttempts, "locked_until": until})
	if err := result.Error; err != nil {
		return oops.Code("USER_UPDATE_LOGIN_STATE_FAILED").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpgradePasswordHash replaces the hash only while it still equals oldHash.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error) {
	result := conn(ctx, r.db).Model(&userModel{}).
		Where("id = ? AND password_hash = ?", id.String(), oldHash).
		Update("password_hash", newHash)
	if err := result.Error; err != nil {
		return false, oops.Code("USER_UPGRADE_HASH_FAILED").With("id", id.String()).Wrap(err)
	}
	return result.RowsAffected == 1, nil
}

// UpdatePassword updates only the password hash for a user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result := conn(ctx, r.db).Model(&userModel{}).Where("id = ?", id.String()).
		Updates(map[string]any{"password_hash": passwordHash, "updated_at": time.Now().UTC()})
	if err := result.Error; err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").With("id", id.String()).Wrap(err)
	}
	if result.RowsAffected == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

func toUserModel(u *auth.User) userModel {
	m := userModel{
		ID:             u.ID.String(),
		Username:       u.Username,
		Email:          u.Email,
		FullName:       u.FullName,
		PasswordHash:   u.PasswordHash,
		Role:           string(u.Role),
		Status:         string(u.Status),
		FailedAttempts: u.FailedAttempts,
		CreatedAt:      u.CreatedAt.UTC(),
		UpdatedAt:      u.UpdatedAt.UTC(),
	}
	if u.LockedUntil != nil {
		t := u.LockedUntil.UTC()
		m.LockedUntil = &t
	}
	return m
}

func (m *userModel) toUser() (*auth.User, error) {
	id, err := ulid.Parse(m.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", m.ID).Wrap(err)
	}
	return &auth.User{
		ID:             id,
		Username:       m.Username,
		Email:          m.Email,
		FullName:       m.FullName,
		PasswordHash:   m.PasswordHash,
		Role:           auth.Role(m.Role),
		Status:         auth.Status(m.Status),
		FailedAttempts: m.FailedAttempts,
		LockedUntil:    m.LockedUntil,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
