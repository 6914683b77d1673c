// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
	MaxFullNameLength = 255
)

// usernameRegex matches usernames that start with a letter and contain only
// letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

var emailRegex = regexp.MustCompile(`^[\w.+-]+@[\w-]+(\.[\w-]+)*\.[a-zA-Z]{2,}$`)

// Role is the authorization role of a user.
type Role string

// Roles.
const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleAnalyst
}

// Status is the lifecycle status of a user account.
type Status string

// Statuses.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User represents an account.
type User struct {
	ID             ulid.ULID
	Username       string
	Email          string
	FullName       string
	PasswordHash   string
	Role           Role
	Status         Status
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewUser creates a validated, normalized active analyst.
func NewUser(username, email, fullName, passwordHash string) (*User, error) {
	username = NormalizeIdentifier(username)
	email = NormalizeIdentifier(email)
	fullName = strings.TrimSpace(fullName)

	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if len(fullName) > MaxFullNameLength {
		return nil, oops.Code("AUTH_INVALID_FULL_NAME").
			With("max", MaxFullNameLength).
			Wrapf(ErrInvalidInput, "full name must be at most %d characters", MaxFullNameLength)
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD_HASH").Wrapf(ErrInvalidInput, "password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		FullName:     fullName,
		PasswordHash: passwordHash,
		Role:         RoleAnalyst,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsActive returns true if the account may authenticate.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// IsLocked returns true if the user is locked out at now.
func (u *User) IsLocked(now time.Time) bool {
	return IsLockedOut(u.LockedUntil, now)
}

// RecordFailure increments the failure counter and sets lockout if threshold reached.
func (u *User) RecordFailure(now time.Time) {
	u.FailedAttempts++
	u.LockedUntil = ComputeLockoutTime(u.FailedAttempts, now)
	u.UpdatedAt = now.UTC()
}

// RecordSuccess resets failure counter and lockout.
func (u *User) RecordSuccess(now time.Time) {
	u.FailedAttempts, u.LockedUntil = ResetOnSuccess()
	u.UpdatedAt = now.UTC()
}

// NormalizeIdentifier trims and lower-cases a username or email so that
// lookups and uniqueness are case-insensitive.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Wrapf(ErrInvalidInput, "username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Wrapf(ErrInvalidInput, "username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Wrapf(ErrInvalidInput, "username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Wrapf(ErrInvalidInput, "username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail performs a syntactic check of an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email cannot be empty")
	}
	if len(email) > MaxEmailLength || !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Wrapf(ErrInvalidInput, "email address is not valid")
	}
	return nil
}

// PasswordPolicy describes the strength requirements for new passwords.
type PasswordPolicy struct {
	MinLength         int
	RequireComplexity bool // upper, lower, digit and symbol
}

// DefaultPasswordPolicy returns the policy applied when none is configured.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, RequireComplexity: true}
}

// maxPasswordLength bounds hashing cost for hostile input.
const maxPasswordLength = 128

// Validate checks a plaintext password against the policy.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) < p.MinLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", p.MinLength).
			Wrapf(ErrInvalidInput, "password must be at least %d characters", p.MinLength)
	}
	if len(password) > maxPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("max", maxPasswordLength).
			Wrapf(ErrInvalidInput, "password must be at most %d characters", maxPasswordLength)
	}
	if !p.RequireComplexity {
		return nil
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return oops.Code("AUTH_WEAK_PASSWORD").
			Wrapf(ErrInvalidInput, "password must contain upper and lower case letters, a digit and a symbol")
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user.
	// Returns ErrDuplicateUser if the username or email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByIdentifier retrieves a user by username or email (case-insensitive).
	// Returns ErrNotFound if neither matches.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)

	// List returns all users ordered by creation time.
	List(ctx context.Context) ([]*User, error)

	// Update writes the profile fields of an existing user: username, email,
	// full name, role, status and updated_at. The password hash and login
	// state are never written here.
	Update(ctx context.Context, user *User) error

	// UpdatePassword updates only the password hash for a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLoginState writes only the failure counter and lockout deadline.
	UpdateLoginState(ctx context.Context, id ulid.ULID, failedAttempts int, lockedUntil *time.Time) error

	// UpgradePasswordHash replaces the hash only while it still equals
	// oldHash. Returns false without error when the hash changed meanwhile.
	UpgradePasswordHash(ctx context.Context, id ulid.ULID, oldHash, newHash string) (bool, error)
}

// Transactor runs fn so that every repository call made with the context it
// receives commits or rolls back as a unit.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
