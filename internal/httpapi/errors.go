// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/pkg/errutil"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	label   string
	message string
	detail  bool // surface the wrapped message
}

// Ordered: the first matching sentinel decides the response.
var errorMappings = []errorMapping{
	{auth.ErrDuplicateUser, fiber.StatusConflict, "duplicate_user", "username or email already registered", false},
	{auth.ErrTokenAlreadyUsed, fiber.StatusConflict, "token_already_used", "reset link has already been used", false},
	{auth.ErrTokenExpired, fiber.StatusGone, "token_expired", "reset link has expired", false},
	{auth.ErrTokenInvalid, fiber.StatusBadRequest, "token_invalid", "reset link is invalid", false},
	{auth.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials", "invalid username or password", false},
	{auth.ErrUnauthorized, fiber.StatusUnauthorized, "unauthorized", "authentication required", false},
	{auth.ErrAccountInactive, fiber.StatusForbidden, "account_inactive", "account is inactive, contact an administrator", false},
	{auth.ErrForbidden, fiber.StatusForbidden, "forbidden", "", true},
	{auth.ErrAccountLocked, fiber.StatusTooManyRequests, "account_locked", "too many failed attempts, try again later", false},
	{auth.ErrInvalidInput, fiber.StatusBadRequest, "invalid_input", "", true},
	{auth.ErrNotFound, fiber.StatusNotFound, "not_found", "resource not found", false},
}

// handleError renders err as an ErrorResponse. Unmapped errors are logged
// and reported as a generic 500.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_input",
			Message: "request validation failed",
			Fields:  fieldErrors(verrs),
		})
	}

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return c.Status(ferr.Code).JSON(ErrorResponse{
			Error:   statusLabel(ferr.Code),
			Message: ferr.Message,
		})
	}

	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if m.detail {
			msg = detail(err, m.target)
		}
		if m.target == auth.ErrAccountLocked {
			if wait, ok := retryAfter(err); ok {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(wait))
			}
		}
		s.logger.DebugContext(c.UserContext(), "request rejected", errutil.ErrorAttrs(err)...)
		return c.Status(m.status).JSON(ErrorResponse{Error: m.label, Message: msg})
	}

	errutil.LogErrorContext(c.UserContext(), s.logger, "request failed", err,
		"method", c.Method(),
		"path", c.Path())
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal_error",
		Message: "internal server error",
	})
}

// detail strips the sentinel suffix from a coded error message.
func detail(err, sentinel error) string {
	return strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
}

// retryAfter reads the lockout remaining from the error context, rounded up
// to whole seconds.
func retryAfter(err error) (int, bool) {
	oe, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	remaining, ok := oe.Context()["retry_after"].(time.Duration)
	if !ok || remaining <= 0 {
		return 0, false
	}
	return int(math.Ceil(remaining.Seconds())), true
}

func fieldErrors(verrs validation.Errors) map[string]string {
	out := make(map[string]string, len(verrs))
	for field, err := range verrs {
		if err != nil {
			out[field] = err.Error()
		}
	}
	return out
}

// statusLabel turns 404 into "not_found".
func statusLabel(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
