// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

// Denylist records session tokens revoked before their expiry.
type Denylist interface {
	// Revoke marks tokenID revoked until the given time.
	Revoke(ctx context.Context, tokenID string, until time.Time) error

	// IsRevoked reports whether tokenID is currently revoked.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Principal is the authenticated caller of a protected request.
type Principal struct {
	UserID    ulid.ULID
	Username  string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Guard authenticates session tokens on protected requests.
type Guard struct {
	issuer   *TokenIssuer
	users    UserRepository
	denylist Denylist
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuard creates a Guard.
func NewGuard(issuer *TokenIssuer, users UserRepository, denylist Denylist, logger *slog.Logger) (*Guard, error) {
	switch {
	case issuer == nil:
		return nil, oops.Code("GUARD_INVALID").Errorf("token issuer is required")
	case users == nil:
		return nil, oops.Code("GUARD_INVALID").Errorf("user repository is required")
	case denylist == nil:
		return nil, oops.Code("GUARD_INVALID").Errorf("denylist is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{issuer: issuer, users: users, denylist: denylist, logger: logger, now: time.Now}, nil
}

// Authenticate validates a session token. Every failure is reported as
// ErrUnauthorized; the underlying cause is only logged.
func (g *Guard) Authenticate(ctx context.Context, token string) (*Principal, error) {
	p, err := g.authenticate(ctx, token)
	if err != nil {
		g.logger.DebugContext(ctx, "session rejected", errutil.ErrorAttrs(err)...)
		return nil, oops.Code(CodeUnauthorized).Wrap(ErrUnauthorized)
	}
	return p, nil
}

func (g *Guard) authenticate(ctx context.Context, token string) (*Principal, error) {
	verified, err := g.issuer.VerifySession(token, g.now())
	if err != nil {
		return nil, err
	}

	revoked, err := g.denylist.IsRevoked(ctx, verified.ID)
	if err != nil {
		// Fail closed, but surface the outage at a level operators see.
		errutil.LogErrorContext(ctx, g.logger, "denylist lookup failed", err)
		return nil, oops.Code("SESSION_DENYLIST_FAILED").Wrap(err)
	}
	if revoked {
		return nil, oops.Code("SESSION_REVOKED").
			With("token_id", verified.ID).
			Errorf("session token was revoked")
	}

	user, err := g.users.GetByID(ctx, verified.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_USER_GONE").
				With("user_id", verified.Subject.String()).
				Wrap(err)
		}
		return nil, oops.Code("SESSION_USER_LOOKUP_FAILED").Wrap(err)
	}
	if !user.IsActive() {
		return nil, oops.Code("SESSION_USER_INACTIVE").
			With("user_id", user.ID.String()).
			Errorf("user is inactive")
	}

	return &Principal{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		TokenID:   verified.ID,
		ExpiresAt: verified.ExpiresAt,
	}, nil
}
