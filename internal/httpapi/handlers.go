// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

// resetAccepted is returned for every reset request, known account or not.
const resetAccepted = "if the account exists, a password reset link has been sent"

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *auth.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      string(u.Role),
		Status:    string(u.Status),
		Locked:    u.IsLocked(time.Now()),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// MessageResponse carries a human readable result.
type MessageResponse struct {
	Message string `json:"message"`
}

// SignupRequest registers a new account.
type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate checks the request shape. Password strength and username rules
// are enforced by the service.
func (r SignupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FullName, validation.Length(0, auth.MaxFullNameLength)),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.ConfirmPassword, validation.Required),
	)
}

// LoginRequest authenticates by username or email. Email and Username are
// accepted as aliases of Identifier.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (r LoginRequest) identifier() string {
	return firstNonEmpty(r.Identifier, r.Username, r.Email)
}

// Validate checks the request shape.
func (r LoginRequest) Validate() error {
	return validation.Errors{
		"identifier": validation.Validate(r.identifier(), validation.Required),
		"password":   validation.Validate(r.Password, validation.Required),
	}.Filter()
}

// LoginResponse carries a new session token.
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// ResetRequest starts a password reset.
type ResetRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
}

// Validate checks the request shape.
func (r ResetRequest) Validate() error {
	return validation.Errors{
		"identifier": validation.Validate(firstNonEmpty(r.Identifier, r.Email), validation.Required),
	}.Filter()
}

// ConfirmResetRequest completes a password reset.
type ConfirmResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Validate checks the request shape.
func (r ConfirmResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

// ChangePasswordRequest replaces the caller's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Validate checks the request shape.
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

var roles = []any{string(auth.RoleAdmin), string(auth.RoleAnalyst)}

// AddUserRequest provisions an account as an admin.
type AddUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Validate checks the request shape.
func (r AddUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.FullName, validation.Length(0, auth.MaxFullNameLength)),
		validation.Field(&r.Role, validation.In(roles...)),
	)
}

// AddUserResponse returns the generated password exactly once.
type AddUserResponse struct {
	User            UserResponse `json:"user"`
	OneTimePassword string       `json:"one_time_password"`
}

// UpdateUserRequest edits an account. Omitted fields are left unchanged.
type UpdateUserRequest struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	Status   *string `json:"status"`
}

// Validate checks the request shape.
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Length(0, auth.MaxFullNameLength)),
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.Role, validation.In(roles...)),
		validation.Field(&r.Status, validation.In(string(auth.StatusActive), string(auth.StatusInactive))),
	)
}

func (r UpdateUserRequest) toUpdate() auth.UserUpdate {
	upd := auth.UserUpdate{FullName: r.FullName, Email: r.Email}
	if r.Role != nil {
		role := auth.Role(*r.Role)
		upd.Role = &role
	}
	if r.Status != nil {
		status := auth.Status(*r.Status)
		upd.Status = &status
	}
	return upd
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, v validation.Validatable) error {
	if err := c.BodyParser(v); err != nil {
		return oops.Code("REQUEST_MALFORMED").Wrapf(auth.ErrInvalidInput, "request body is not valid JSON")
	}
	return v.Validate() //nolint:wrapcheck // validation.Errors is rendered field by field
}

func (s *Server) banner(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "authd credential and session service",
		"version": s.version,
		"status":  "ok",
	})
}

func (s *Server) signup(c *fiber.Ctx) error {
	var req SignupRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := s.auth.Signup(c.UserContext(), auth.SignupInput{
		Username:        req.Username,
		Email:           req.Email,
		FullName:        req.FullName,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
}

func (s *Server) login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	session, err := s.auth.Login(c.UserContext(), req.identifier(), req.Password)
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(LoginResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		User:        toUserResponse(session.User),
	})
}

func (s *Server) logout(c *fiber.Ctx) error {
	if err := s.auth.Logout(c.UserContext(), principal(c)); err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(MessageResponse{Message: "logged out"})
}

func (s *Server) requestReset(c *fiber.Ctx) error {
	var req ResetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	// The response never depends on the outcome.
	if err := s.resets.RequestReset(c.UserContext(), firstNonEmpty(req.Identifier, req.Email)); err != nil {
		errutil.LogErrorContext(c.UserContext(), s.logger, "password reset request failed", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(MessageResponse{Message: resetAccepted})
}

func (s *Server) confirmReset(c *fiber.Ctx) error {
	var req ConfirmResetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.resets.ConfirmReset(c.UserContext(), req.Token, req.NewPassword); err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(MessageResponse{Message: "password has been reset"})
}

func (s *Server) profile(c *fiber.Ctx) error {
	user, err := s.auth.Profile(c.UserContext(), principal(c).UserID)
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(toUserResponse(user))
}

func (s *Server) changePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if err := s.auth.ChangePassword(c.UserContext(), principal(c).UserID, req.OldPassword, req.NewPassword); err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(MessageResponse{Message: "password changed"})
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	users, err := s.auth.ListUsers(c.UserContext())
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return c.JSON(fiber.Map{"users": out})
}

func (s *Server) createUser(c *fiber.Ctx) error {
	var req AddUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, password, err := s.auth.CreateUser(c.UserContext(), auth.CreateUserInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     auth.Role(req.Role),
	})
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.Status(fiber.StatusCreated).JSON(AddUserResponse{
		User:            toUserResponse(user),
		OneTimePassword: password,
	})
}

func (s *Server) updateUser(c *fiber.Ctx) error {
	id, err := ulid.ParseStrict(c.Params("id"))
	if err != nil {
		return oops.Code("REQUEST_INVALID_ID").With("id", c.Params("id")).Wrapf(auth.ErrInvalidInput, "user id is not valid")
	}

	var req UpdateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := s.auth.UpdateUser(c.UserContext(), principal(c).UserID, id, req.toUpdate())
	if err != nil {
		return err //nolint:wrapcheck // coded by the service
	}
	return c.JSON(toUserResponse(user))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
