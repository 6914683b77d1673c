// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/pkg/errutil"
)

// oneTimePasswordLength is the length of passwords generated for admin-created accounts.
const oneTimePasswordLength = 16

// Service provides account and session operations.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	issuer   *TokenIssuer
	denylist Denylist
	resets   PasswordResetRepository
	tx       Transactor

	logger   *slog.Logger
	observer Observer
	policy   PasswordPolicy
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithPasswordPolicy sets the policy applied to new passwords.
func WithPasswordPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides the time source used for token issuance and lockout.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithResetRepository makes password changes and deactivation discard the
// user's outstanding reset request, so an emailed link stops working. tx
// groups the user write with the discard; nil runs them in sequence.
func WithResetRepository(resets PasswordResetRepository, tx Transactor) ServiceOption {
	return func(s *Service) {
		s.resets = resets
		s.tx = tx
	}
}

// NewAuthService creates a new Service.
func NewAuthService(users UserRepository, hasher PasswordHasher, issuer *TokenIssuer, denylist Denylist, opts ...ServiceOption) (*Service, error) {
	switch {
	case users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case issuer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token issuer is required")
	case denylist == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("denylist is required")
	}

	s := &Service{
		users:    users,
		hasher:   hasher,
		issuer:   issuer,
		denylist: denylist,
		logger:   slog.Default(),
		observer: nopObserver{},
		policy:   DefaultPasswordPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// SignupInput is the self-registration request.
type SignupInput struct {
	Username        string
	Email           string
	FullName        string
	Password        string
	ConfirmPassword string
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	User      *User
}

// Signup registers a new active analyst account.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	user, err := s.signup(ctx, in)
	s.observe("signup", err, ErrInvalidInput, ErrDuplicateUser)
	return user, err
}

func (s *Service) signup(ctx context.Context, in SignupInput) (*User, error) {
	if in.Password != in.ConfirmPassword {
		return nil, oops.Code("AUTH_PASSWORD_MISMATCH").Wrapf(ErrInvalidInput, "passwords do not match")
	}
	if err := s.policy.Validate(in.Password); err != nil {
		return nil, err
	}

	// Validate identity fields before paying for a hash.
	if err := ValidateUsername(NormalizeIdentifier(in.Username)); err != nil {
		return nil, err
	}
	if err := ValidateEmail(NormalizeIdentifier(in.Email)); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code(CodeHashingFailed).With("operation", "Hash").Wrap(err)
	}

	user, err := NewUser(in.Username, in.Email, in.FullName, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, s.wrapDuplicate(err, "AUTH_SIGNUP_FAILED", user)
	}

	s.logger.InfoContext(ctx, "user signed up", "user_id", user.ID.String(), "username", user.Username)
	return user, nil
}

// Login authenticates by username or email and issues a session token.
// Uses constant-time operations to prevent timing-based username enumeration.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	session, err := s.login(ctx, identifier, password)
	s.observe("login", err, ErrInvalidCredentials, ErrAccountLocked, ErrAccountInactive)
	return session, err
}

func (s *Service) login(ctx context.Context, identifier, password string) (*Session, error) {
	user, lookupErr := s.users.GetByIdentifier(ctx, NormalizeIdentifier(identifier))

	var targetHash string
	var userExists bool

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "GetByIdentifier").
				Wrap(lookupErr)
		}
		targetHash = dummyPasswordHash
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify, even for unknown identifiers.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "Verify").
			With("user_id", user.ID.String()).
			Wrap(verifyErr)
	}

	now := s.now()
	if !userExists || !valid {
		if userExists {
			user.RecordFailure(now)
			s.saveLoginState(ctx, user, "record_failure")
		}
		return nil, invalidCredentials()
	}

	// Lockout is checked after verification to keep timing uniform.
	if status := CheckFailures(user.FailedAttempts, user.LockedUntil, now); status.Locked {
		return nil, oops.Code(CodeAccountLocked).
			With("locked_until", user.LockedUntil).
			With("retry_after", status.Remaining).
			Wrapf(ErrAccountLocked, "account is temporarily locked")
	}
	if !user.IsActive() {
		return nil, oops.Code(CodeAccountInactive).
			With("user_id", user.ID.String()).
			Wrapf(ErrAccountInactive, "account is inactive")
	}

	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		user.RecordSuccess(now)
		s.saveLoginState(ctx, user, "record_success")
	}
	s.upgradeHash(ctx, user, password)

	issued, err := s.issuer.IssueSession(user.ID, now)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "IssueSession").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return &Session{
		Token:     issued.Token,
		TokenID:   issued.ID,
		ExpiresAt: issued.ExpiresAt,
		User:      user,
	}, nil
}

// saveLoginState persists the lockout bookkeeping of user. Best effort; the
// login outcome does not depend on it.
func (s *Service) saveLoginState(ctx context.Context, user *User, op string) {
	if err := s.users.UpdateLoginState(ctx, user.ID, user.FailedAttempts, user.LockedUntil); err != nil {
		s.logger.WarnContext(ctx, "best-effort login state update failed",
			append(errutil.ErrorAttrs(err), "operation", op, "user_id", user.ID.String())...)
	}
}

// upgradeHash rehashes password with the current parameters when the stored
// hash is outdated. The write only applies while the stored hash is still the
// one that was verified.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			append(errutil.ErrorAttrs(err), "user_id", user.ID.String())...)
		return
	}
	applied, err := s.users.UpgradePasswordHash(ctx, user.ID, user.PasswordHash, newHash)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "best-effort hash upgrade failed",
			append(errutil.ErrorAttrs(err), "user_id", user.ID.String())...)
	case applied:
		user.PasswordHash = newHash
	}
}

// Logout revokes the principal's session token until it would have expired.
func (s *Service) Logout(ctx context.Context, p *Principal) error {
	if p == nil || p.TokenID == "" {
		return oops.Code(CodeUnauthorized).Wrapf(ErrUnauthorized, "no session to revoke")
	}
	err := s.denylist.Revoke(ctx, p.TokenID, p.ExpiresAt)
	s.observe("logout", err)
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("user_id", p.UserID.String()).
			Wrap(err)
	}
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID ulid.ULID, current, next string) error {
	err := s.changePassword(ctx, userID, current, next)
	s.observe("change_password", err, ErrInvalidInput, ErrUnauthorized)
	return err
}

func (s *Service) changePassword(ctx context.Context, userID ulid.ULID, current, next string) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}

	valid, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "Verify").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if !valid {
		return oops.Code("AUTH_WRONG_PASSWORD").Wrapf(ErrInvalidInput, "current password is incorrect")
	}
	if current == next {
		return oops.Code("AUTH_PASSWORD_UNCHANGED").Wrapf(ErrInvalidInput, "new password must differ from the current password")
	}
	if err := s.policy.Validate(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return oops.Code(CodeHashingFailed).With("operation", "Hash").Wrap(err)
	}
	err = s.withinTx(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "UpdatePassword").
				With("user_id", userID.String()).
				Wrap(err)
		}
		return s.discardResets(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", userID.String())
	return nil
}

// Profile returns the authenticated user's record.
func (s *Service) Profile(ctx context.Context, userID ulid.ULID) (*User, error) {
	return s.activeUser(ctx, userID)
}

// ListUsers returns every account, oldest first.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_USERS_FAILED").Wrap(err)
	}
	return users, nil
}

// CreateUserInput is an admin request to provision an account.
type CreateUserInput struct {
	Username string
	Email    string
	FullName string
	Role     Role
}

// CreateUser provisions an account with a generated one-time password,
// returned once to the calling admin.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, string, error) {
	user, password, err := s.createUser(ctx, in)
	s.observe("create_user", err, ErrInvalidInput, ErrDuplicateUser)
	return user, password, err
}

func (s *Service) createUser(ctx context.Context, in CreateUserInput) (*User, string, error) {
	role := in.Role
	if role == "" {
		role = RoleAnalyst
	}
	if !role.Valid() {
		return nil, "", oops.Code("AUTH_INVALID_ROLE").With("role", role).Wrapf(ErrInvalidInput, "unknown role %q", role)
	}

	password, err := generateOneTimePassword(max(oneTimePasswordLength, s.policy.MinLength))
	if err != nil {
		return nil, "", oops.Code("AUTH_CREATE_USER_FAILED").With("operation", "generate password").Wrap(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, "", oops.Code(CodeHashingFailed).With("operation", "Hash").Wrap(err)
	}

	user, err := NewUser(in.Username, in.Email, in.FullName, hash)
	if err != nil {
		return nil, "", err
	}
	user.Role = role

	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", s.wrapDuplicate(err, "AUTH_CREATE_USER_FAILED", user)
	}

	s.logger.InfoContext(ctx, "user created by admin", "user_id", user.ID.String(), "role", string(role))
	return user, password, nil
}

// UserUpdate holds the admin-editable fields. Nil fields are left unchanged.
type UserUpdate struct {
	FullName *string
	Email    *string
	Role     *Role
	Status   *Status
}

// UpdateUser applies an admin edit. Admins cannot demote or deactivate
// themselves.
func (s *Service) UpdateUser(ctx context.Context, actorID, userID ulid.ULID, upd UserUpdate) (*User, error) {
	user, err := s.updateUser(ctx, actorID, userID, upd)
	s.observe("update_user", err, ErrInvalidInput, ErrDuplicateUser, ErrForbidden, ErrNotFound)
	return user, err
}

func (s *Service) updateUser(ctx context.Context, actorID, userID ulid.ULID, upd UserUpdate) (*User, error) {
	if actorID == userID {
		if upd.Role != nil && *upd.Role != RoleAdmin {
			return nil, oops.Code(CodeForbidden).Wrapf(ErrForbidden, "admins cannot change their own role")
		}
		if upd.Status != nil && *upd.Status != StatusActive {
			return nil, oops.Code(CodeForbidden).Wrapf(ErrForbidden, "admins cannot deactivate themselves")
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").With("user_id", userID.String()).Wrap(err)
		}
		return nil, oops.Code("AUTH_UPDATE_USER_FAILED").With("operation", "GetByID").Wrap(err)
	}

	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if len(name) > MaxFullNameLength {
			return nil, oops.Code("AUTH_INVALID_FULL_NAME").
				With("max", MaxFullNameLength).
				Wrapf(ErrInvalidInput, "full name must be at most %d characters", MaxFullNameLength)
		}
		user.FullName = name
	}
	if upd.Email != nil {
		email := NormalizeIdentifier(*upd.Email)
		if err := ValidateEmail(email); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, oops.Code("AUTH_INVALID_ROLE").With("role", *upd.Role).Wrapf(ErrInvalidInput, "unknown role %q", *upd.Role)
		}
		user.Role = *upd.Role
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return nil, oops.Code("AUTH_INVALID_STATUS").With("status", *upd.Status).Wrapf(ErrInvalidInput, "unknown status %q", *upd.Status)
		}
		user.Status = *upd.Status
	}
	user.UpdatedAt = s.now().UTC()

	deactivated := upd.Status != nil && *upd.Status == StatusInactive
	err = s.withinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Update(ctx, user); err != nil {
			return s.wrapDuplicate(err, "AUTH_UPDATE_USER_FAILED", user)
		}
		if deactivated {
			return s.discardResets(ctx, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user updated",
		"user_id", user.ID.String(),
		"actor_id", actorID.String(),
		"role", string(user.Role),
		"status", string(user.Status))
	return user, nil
}

// SeedAdmin creates the bootstrap admin account. An existing account with
// the same username is returned unchanged with created=false.
func (s *Service) SeedAdmin(ctx context.Context, username, email, password string) (user *User, created bool, err error) {
	existing, err := s.users.GetByIdentifier(ctx, NormalizeIdentifier(username))
	if err == nil {
		s.logger.InfoContext(ctx, "admin already present", "user_id", existing.ID.String())
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, oops.Code("AUTH_SEED_FAILED").With("operation", "GetByIdentifier").Wrap(err)
	}

	if err := s.policy.Validate(password); err != nil {
		return nil, false, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, false, oops.Code(CodeHashingFailed).With("operation", "Hash").Wrap(err)
	}

	user, err = NewUser(username, email, "Administrator", hash)
	if err != nil {
		return nil, false, err
	}
	user.Role = RoleAdmin

	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, s.wrapDuplicate(err, "AUTH_SEED_FAILED", user)
	}

	s.logger.InfoContext(ctx, "admin seeded", "user_id", user.ID.String(), "username", user.Username)
	return user, true, nil
}

func (s *Service) activeUser(ctx context.Context, userID ulid.ULID) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeUnauthorized).With("user_id", userID.String()).Wrapf(ErrUnauthorized, "user no longer exists")
		}
		return nil, oops.Code("AUTH_PROFILE_FAILED").With("operation", "GetByID").Wrap(err)
	}
	if !user.IsActive() {
		return nil, oops.Code(CodeUnauthorized).With("user_id", userID.String()).Wrapf(ErrUnauthorized, "user is inactive")
	}
	return user, nil
}

func (s *Service) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx.WithinTx(ctx, fn) //nolint:wrapcheck // fn returns coded errors
}

// discardResets deletes the user's reset request, if reset tracking is wired.
func (s *Service) discardResets(ctx context.Context, userID ulid.ULID) error {
	if s.resets == nil {
		return nil
	}
	if err := s.resets.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("AUTH_RESET_DISCARD_FAILED").
			With("operation", "DeleteByUser").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

func (s *Service) wrapDuplicate(err error, code string, user *User) error {
	if errors.Is(err, ErrDuplicateUser) {
		return oops.Code(CodeDuplicateUser).
			With("username", user.Username).
			Wrap(err)
	}
	return oops.Code(code).
		With("operation", "persist user").
		With("user_id", user.ID.String()).
		Wrap(err)
}

// observe reports err as a failure when it matches one of the expected
// sentinels and as an error otherwise.
func (s *Service) observe(op string, err error, expected ...error) {
	if err == nil {
		s.observer.ObserveOperation(op, OutcomeSuccess)
		return
	}
	for _, target := range expected {
		if errors.Is(err, target) {
			s.observer.ObserveOperation(op, OutcomeFailure)
			return
		}
	}
	s.observer.ObserveOperation(op, OutcomeError)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrapf(ErrInvalidCredentials, "invalid username or password")
}

const (
	otpUpper  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	otpLower  = "abcdefghijkmnopqrstuvwxyz"
	otpDigit  = "23456789"
	otpSymbol = "!@#$%^&*-_=+"
)

// generateOneTimePassword returns a random password with at least one
// character from each class so it satisfies the default policy.
func generateOneTimePassword(length int) (string, error) {
	classes := []string{otpUpper, otpLower, otpDigit, otpSymbol}
	all := strings.Join(classes, "")

	out := make([]byte, length)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Shuffle so the class-guaranteed characters are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", oops.Wrap(err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, oops.Wrap(err)
	}
	return set[n.Int64()], nil
}
