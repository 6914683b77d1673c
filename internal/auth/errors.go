// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Sentinel errors. Service errors wrap these with an oops code, so callers
// match with errors.Is and log the code.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	// It never crosses the HTTP boundary.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser is returned when a username or email is already registered.
	ErrDuplicateUser = errors.New("username or email already registered")

	// ErrInvalidCredentials is the single login failure for unknown
	// identifiers and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrTokenInvalid is returned for tokens with a bad signature, wrong kind,
	// malformed payload, or no matching server-side record.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenAlreadyUsed is returned when a reset token was consumed or superseded.
	ErrTokenAlreadyUsed = errors.New("token has already been used")

	// ErrHashing is returned when password hashing fails internally.
	ErrHashing = errors.New("password hashing failed")

	// ErrUnauthorized is the uniform session guard failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput is returned when user supplied data fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccountLocked is returned after too many failed logins.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrAccountInactive is returned when a deactivated account logs in.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrForbidden is returned when a principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Error codes attached to the sentinels above.
const (
	CodeDuplicateUser      = "AUTH_DUPLICATE_USER"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	CodeHashingFailed      = "AUTH_HASHING_FAILED"
	CodeUnauthorized       = "AUTH_UNAUTHORIZED"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeAccountInactive    = "AUTH_ACCOUNT_INACTIVE"
	CodeForbidden          = "AUTH_FORBIDDEN"
)
