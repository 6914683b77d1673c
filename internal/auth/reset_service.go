// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

// DefaultNotifyTimeout bounds a single asynchronous reset email delivery.
const DefaultNotifyTimeout = 30 * time.Second

// PasswordResetService coordinates the reset-request and reset-confirm flow.
type PasswordResetService struct {
	users    UserRepository
	resets   PasswordResetRepository
	tx       Transactor
	issuer   *TokenIssuer
	hasher   PasswordHasher
	notifier ResetNotifier

	logger        *slog.Logger
	observer      Observer
	policy        PasswordPolicy
	baseURL       string
	notifyTimeout time.Duration
	now           func() time.Time

	inflight sync.WaitGroup
}

// ResetOption configures a PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetLogger sets the logger. Defaults to slog.Default().
func WithResetLogger(logger *slog.Logger) ResetOption {
	return func(s *PasswordResetService) { s.logger = logger }
}

// WithResetObserver sets the metrics observer.
func WithResetObserver(o Observer) ResetOption {
	return func(s *PasswordResetService) { s.observer = o }
}

// WithResetPolicy sets the password policy applied to new passwords.
func WithResetPolicy(p PasswordPolicy) ResetOption {
	return func(s *PasswordResetService) { s.policy = p }
}

// WithResetBaseURL sets the page that receives the token query parameter.
func WithResetBaseURL(u string) ResetOption {
	return func(s *PasswordResetService) { s.baseURL = u }
}

// WithNotifyTimeout bounds each email delivery.
func WithNotifyTimeout(d time.Duration) ResetOption {
	return func(s *PasswordResetService) { s.notifyTimeout = d }
}

// WithResetClock overrides the time source.
func WithResetClock(now func() time.Time) ResetOption {
	return func(s *PasswordResetService) { s.now = now }
}

// NewPasswordResetService creates a new PasswordResetService.
func NewPasswordResetService(
	users UserRepository,
	resets PasswordResetRepository,
	tx Transactor,
	issuer *TokenIssuer,
	hasher PasswordHasher,
	notifier ResetNotifier,
	opts ...ResetOption,
) (*PasswordResetService, error) {
	switch {
	case users == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("user repository is required")
	case resets == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("reset repository is required")
	case tx == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("transactor is required")
	case issuer == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("token issuer is required")
	case hasher == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("password hasher is required")
	case notifier == nil:
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("reset notifier is required")
	}

	s := &PasswordResetService{
		users:         users,
		resets:        resets,
		tx:            tx,
		issuer:        issuer,
		hasher:        hasher,
		notifier:      notifier,
		logger:        slog.Default(),
		observer:      nopObserver{},
		policy:        DefaultPasswordPolicy(),
		notifyTimeout: DefaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.baseURL != "" {
		if _, err := url.Parse(s.baseURL); err != nil {
			return nil, oops.Code("RESET_SERVICE_INVALID").With("base_url", s.baseURL).Wrap(err)
		}
	}
	return s, nil
}

// RequestReset starts a password reset for the account matching identifier
// (username or email). Unknown or inactive accounts get the same nil result
// with no side effects, so callers cannot probe for registered identifiers.
// The email is sent asynchronously; delivery failure is logged and counted
// but never returned.
func (s *PasswordResetService) RequestReset(ctx context.Context, identifier string) error {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return oops.Code("RESET_IDENTIFIER_EMPTY").Wrapf(ErrInvalidInput, "identifier cannot be empty")
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "reset requested for unknown identifier")
			s.observer.ObserveOperation("reset_request", OutcomeSuccess)
			return nil
		}
		s.observer.ObserveOperation("reset_request", OutcomeError)
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "GetByIdentifier").
			Wrap(err)
	}
	if !user.IsActive() {
		s.logger.DebugContext(ctx, "reset requested for inactive account", "user_id", user.ID.String())
		s.observer.ObserveOperation("reset_request", OutcomeSuccess)
		return nil
	}

	issued, err := s.issuer.IssueReset(user.ID, s.now())
	if err != nil {
		s.observer.ObserveOperation("reset_request", OutcomeError)
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "IssueReset").
			Wrap(err)
	}

	reset, err := NewPasswordReset(issued)
	if err != nil {
		s.observer.ObserveOperation("reset_request", OutcomeError)
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "NewPasswordReset").
			Wrap(err)
	}

	// Stored before the email goes out; this overwrites any earlier request.
	if err := s.resets.Save(ctx, reset); err != nil {
		s.observer.ObserveOperation("reset_request", OutcomeError)
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "Save").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.dispatch(ctx, PasswordResetNotice{
		To:        user.Email,
		Username:  user.Username,
		FullName:  user.FullName,
		Link:      s.resetLink(issued.Token),
		ExpiresAt: issued.ExpiresAt,
	}, user.ID)

	s.observer.ObserveOperation("reset_request", OutcomeSuccess)
	return nil
}

// ConfirmReset sets a new password using a reset token. The token is
// consumed at most once even under concurrent confirms: the record is
// locked, checked, and marked consumed in the same transaction as the
// password update.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, token, newPassword string) error {
	err := s.confirmReset(ctx, token, newPassword)
	switch {
	case err == nil:
		s.observer.ObserveOperation("reset_confirm", OutcomeSuccess)
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenAlreadyUsed), errors.Is(err, ErrInvalidInput):
		s.observer.ObserveOperation("reset_confirm", OutcomeFailure)
	default:
		s.observer.ObserveOperation("reset_confirm", OutcomeError)
	}
	return err
}

func (s *PasswordResetService) confirmReset(ctx context.Context, token, newPassword string) error {
	now := s.now()

	verified, err := s.issuer.VerifyReset(token, now)
	if err != nil {
		return err //nolint:wrapcheck // already coded by the issuer
	}

	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	// Hashing is slow; do it before taking any locks.
	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code(CodeHashingFailed).
			With("operation", "Hash").
			Wrap(err)
	}

	userID := verified.Subject
	tokenHash := HashToken(token)

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		reset, err := s.resets.GetByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeTokenInvalid).
					With("user_id", userID.String()).
					Wrapf(ErrTokenInvalid, "no reset request is active")
			}
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "GetByUser").
				Wrap(err)
		}

		if !TokenMatchesHash(token, reset.TokenHash) {
			return oops.Code(CodeTokenAlreadyUsed).
				With("user_id", userID.String()).
				Wrapf(ErrTokenAlreadyUsed, "reset token was superseded by a newer request")
		}
		switch reset.StateAt(now) {
		case ResetStateRequested:
		case ResetStateConsumed:
			return oops.Code(CodeTokenAlreadyUsed).
				With("user_id", userID.String()).
				Wrapf(ErrTokenAlreadyUsed, "reset token was already used")
		case ResetStateExpired:
			return oops.Code(CodeTokenExpired).
				With("user_id", userID.String()).
				Wrapf(ErrTokenExpired, "reset request has expired")
		default:
			return oops.Code(CodeTokenInvalid).
				With("user_id", userID.String()).
				Wrapf(ErrTokenInvalid, "no reset request is active")
		}

		if err := s.users.UpdatePassword(ctx, userID, newHash); err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(CodeTokenInvalid).
					With("user_id", userID.String()).
					Wrapf(ErrTokenInvalid, "reset token is bound to an unknown user")
			}
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "UpdatePassword").
				Wrap(err)
		}

		if err := s.resets.MarkConsumed(ctx, userID, tokenHash, now); err != nil {
			if errors.Is(err, ErrTokenAlreadyUsed) {
				return oops.Code(CodeTokenAlreadyUsed).
					With("user_id", userID.String()).
					Wrap(err)
			}
			return oops.Code("RESET_CONFIRM_FAILED").
				With("operation", "MarkConsumed").
				Wrap(err)
		}

		s.logger.InfoContext(ctx, "password reset completed", "user_id", userID.String())
		return nil
	})
}

// PurgeExpired removes reset records whose expiry has passed.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

// Drain waits for in-flight reset emails to finish or ctx to end.
func (s *PasswordResetService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("RESET_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}

func (s *PasswordResetService) dispatch(ctx context.Context, notice PasswordResetNotice, userID ulid.ULID) {
	// The request context ends with the HTTP response; delivery must outlive it.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()

		if err := s.notifier.NotifyPasswordReset(sendCtx, notice); err != nil {
			errutil.LogErrorContext(sendCtx, s.logger, "password reset email failed", err,
				"user_id", userID.String())
			s.observer.ObserveNotification(OutcomeFailure)
			return
		}
		s.observer.ObserveNotification(OutcomeSuccess)
	}()
}

func (s *PasswordResetService) resetLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
