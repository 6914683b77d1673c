// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetState is the lifecycle state of a user's reset request.
type ResetState string

// Reset states. Expired and Consumed are terminal.
const (
	ResetStateNone      ResetState = "none"
	ResetStateRequested ResetState = "requested"
	ResetStateConsumed  ResetState = "consumed"
	ResetStateExpired   ResetState = "expired"
)

// PasswordReset is the server-side record of a user's active reset token.
// A user has at most one; storing a new one supersedes the previous token.
type PasswordReset struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	TokenID    string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// NewPasswordReset creates a validated PasswordReset for an issued reset token.
func NewPasswordReset(issued *IssuedToken) (*PasswordReset, error) {
	if issued == nil {
		return nil, oops.Code("RESET_INVALID_TOKEN").Errorf("issued token cannot be nil")
	}
	if issued.Kind != TokenKindReset {
		return nil, oops.Code("RESET_INVALID_TOKEN").
			With("kind", issued.Kind).
			Errorf("token is not a reset token")
	}
	if issued.Subject.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if issued.Token == "" || issued.ID == "" {
		return nil, oops.Code("RESET_INVALID_TOKEN").Errorf("token and token ID cannot be empty")
	}
	if !issued.ExpiresAt.After(issued.IssuedAt) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be after issue time")
	}

	return &PasswordReset{
		ID:        ulid.Make(),
		UserID:    issued.Subject,
		TokenID:   issued.ID,
		TokenHash: HashToken(issued.Token),
		ExpiresAt: issued.ExpiresAt,
		CreatedAt: issued.IssuedAt,
	}, nil
}

// IsExpiredAt returns true if the reset would be expired at t.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// IsConsumed returns true once the token has been used.
func (r *PasswordReset) IsConsumed() bool {
	return r.ConsumedAt != nil
}

// StateAt returns the lifecycle state at t.
func (r *PasswordReset) StateAt(t time.Time) ResetState {
	switch {
	case r == nil:
		return ResetStateNone
	case r.IsConsumed():
		return ResetStateConsumed
	case r.IsExpiredAt(t):
		return ResetStateExpired
	default:
		return ResetStateRequested
	}
}

// PasswordResetRepository manages password reset persistence.
type PasswordResetRepository interface {
	// Save stores reset as the user's active request, replacing any prior one.
	Save(ctx context.Context, reset *PasswordReset) error

	// GetByUser retrieves the active reset request for a user. Within a
	// transaction the record is locked until commit.
	GetByUser(ctx context.Context, userID ulid.ULID) (*PasswordReset, error)

	// MarkConsumed transitions the user's request to consumed if it still
	// carries tokenHash and is unconsumed. Returns ErrTokenAlreadyUsed otherwise.
	MarkConsumed(ctx context.Context, userID ulid.ULID, tokenHash string, at time.Time) error

	// DeleteByUser removes the user's reset request.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes requests expired at now and returns the count.
	// Consumed requests are kept until they expire.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PasswordResetNotice is handed to the ResetNotifier after a reset is stored.
type PasswordResetNotice struct {
	To        string
	Username  string
	FullName  string
	Link      string
	ExpiresAt time.Time
}

// ResetNotifier delivers password reset links. Delivery failures never
// affect the reset request response.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, notice PasswordResetNotice) error
}
