// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetimes used when none are configured.
const (
	DefaultSessionTTL = time.Hour
	DefaultResetTTL   = 15 * time.Minute
	DefaultIssuer     = "authd"

	// MinSecretLength is the minimum HMAC key size accepted.
	MinSecretLength = 32
)

// TokenKind distinguishes session tokens from password-reset tokens.
// It is carried in the audience claim so one kind never verifies as the other.
type TokenKind string

// Token kinds.
const (
	TokenKindSession TokenKind = "session"
	TokenKindReset   TokenKind = "password-reset"
)

// IssuedToken is a freshly signed token and its claims. IssuedAt is the
// requested issue time truncated to whole seconds and ExpiresAt is
// IssuedAt plus the lifetime, so a token issued at t stops verifying up to
// one second before t plus the lifetime.
type IssuedToken struct {
	Token     string
	ID        string
	Kind      TokenKind
	Subject   ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifiedToken holds the claims of a token that passed verification.
type VerifiedToken struct {
	ID        string
	Kind      TokenKind
	Subject   ulid.ULID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies HS256 JWTs bound to a user.
// It is stateless; single-use tracking of reset tokens lives with the
// PasswordResetService.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	resetTTL   time.Duration
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithSessionTTL sets the session token lifetime.
func WithSessionTTL(d time.Duration) IssuerOption {
	return func(t *TokenIssuer) { t.sessionTTL = d }
}

// WithResetTTL sets the reset token lifetime.
func WithResetTTL(d time.Duration) IssuerOption {
	return func(t *TokenIssuer) { t.resetTTL = d }
}

// WithIssuer sets the iss claim.
func WithIssuer(iss string) IssuerOption {
	return func(t *TokenIssuer) { t.issuer = iss }
}

// NewTokenIssuer creates a TokenIssuer signing with secret.
func NewTokenIssuer(secret []byte, opts ...IssuerOption) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("TOKEN_ISSUER_INVALID_SECRET").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}

	t := &TokenIssuer{
		secret:     append([]byte(nil), secret...),
		issuer:     DefaultIssuer,
		sessionTTL: DefaultSessionTTL,
		resetTTL:   DefaultResetTTL,
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.sessionTTL <= 0 || t.resetTTL <= 0 {
		return nil, oops.Code("TOKEN_ISSUER_INVALID_TTL").
			With("session_ttl", t.sessionTTL).
			With("reset_ttl", t.resetTTL).
			Errorf("token lifetimes must be positive")
	}
	if t.resetTTL >= t.sessionTTL {
		return nil, oops.Code("TOKEN_ISSUER_INVALID_TTL").
			With("session_ttl", t.sessionTTL).
			With("reset_ttl", t.resetTTL).
			Errorf("reset token lifetime must be shorter than session lifetime")
	}
	return t, nil
}

// SessionTTL returns the configured session lifetime.
func (t *TokenIssuer) SessionTTL() time.Duration { return t.sessionTTL }

// ResetTTL returns the configured reset lifetime.
func (t *TokenIssuer) ResetTTL() time.Duration { return t.resetTTL }

// IssueSession mints a session token for userID, valid on
// [now truncated to the second, that instant + session TTL).
func (t *TokenIssuer) IssueSession(userID ulid.ULID, now time.Time) (*IssuedToken, error) {
	return t.issue(TokenKindSession, userID, now, t.sessionTTL)
}

// VerifySession validates a session token and returns its claims.
// Fails with ErrTokenExpired when now >= expiry and ErrTokenInvalid otherwise.
func (t *TokenIssuer) VerifySession(token string, now time.Time) (*VerifiedToken, error) {
	return t.verify(TokenKindSession, token, now)
}

// IssueReset mints a password-reset token for userID, valid on
// [now truncated to the second, that instant + reset TTL). The caller
// persists its hash for single-use tracking.
func (t *TokenIssuer) IssueReset(userID ulid.ULID, now time.Time) (*IssuedToken, error) {
	return t.issue(TokenKindReset, userID, now, t.resetTTL)
}

// VerifyReset validates the signature and expiry of a reset token.
// It does not check whether the token was already consumed.
func (t *TokenIssuer) VerifyReset(token string, now time.Time) (*VerifiedToken, error) {
	return t.verify(TokenKindReset, token, now)
}

func (t *TokenIssuer) issue(kind TokenKind, userID ulid.ULID, now time.Time, ttl time.Duration) (*IssuedToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_SUBJECT").Errorf("user ID cannot be zero")
	}

	// JWT time claims have one second resolution. Validity is measured from
	// the truncated instant so iat and exp in the token match ExpiresAt.
	issuedAt := now.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)
	id := uuid.NewString()

	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    t.issuer,
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{string(kind)},
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").
			With("kind", kind).
			Wrap(err)
	}

	return &IssuedToken{
		Token:     signed,
		ID:        id,
		Kind:      kind,
		Subject:   userID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (t *TokenIssuer) verify(kind TokenKind, token string, now time.Time) (*VerifiedToken, error) {
	if token == "" {
		return nil, oops.Code(CodeTokenInvalid).With("kind", kind).Wrapf(ErrTokenInvalid, "token cannot be empty")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(kind)),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, mapJWTError(kind, err)
	}

	subject, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(CodeTokenInvalid).
			With("kind", kind).
			With("reason", "subject").
			Wrapf(ErrTokenInvalid, "token subject is not a valid user ID")
	}
	if claims.ID == "" || claims.IssuedAt == nil {
		return nil, oops.Code(CodeTokenInvalid).
			With("kind", kind).
			With("reason", "claims").
			Wrapf(ErrTokenInvalid, "token is missing required claims")
	}

	return &VerifiedToken{
		ID:        claims.ID,
		Kind:      kind,
		Subject:   subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// mapJWTError maps jwt library errors onto the token taxonomy. Expiry is only
// reported for tokens whose signature verified.
func mapJWTError(kind TokenKind, err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return oops.Code(CodeTokenExpired).With("kind", kind).Wrapf(ErrTokenExpired, "%s token has expired", kind)
	}

	reason := "malformed"
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = "signature"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		reason = "audience"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		reason = "issuer"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		reason = "claims"
	}
	return oops.Code(CodeTokenInvalid).
		With("kind", kind).
		With("reason", reason).
		With("cause", err.Error()).
		Wrapf(ErrTokenInvalid, "%s token is invalid", kind)
}

// HashToken computes the SHA-256 hex digest stored in place of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenMatchesHash checks a plaintext token against a stored digest in
// constant time.
func TokenMatchesHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(hash)) == 1
}
