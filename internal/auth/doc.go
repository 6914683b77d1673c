// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential, token and session primitives for authd.
//
// # Domain Types
//
// Domain types (User, PasswordReset) should be created using their
// respective constructors:
//   - NewUser - creates a normalized, validated active analyst
//   - NewPasswordReset - creates the stored record for an issued reset token
//
// Direct struct initialization bypasses validation and may create invalid state.
// Repository implementations receive pre-validated types from these constructors.
//
// # Tokens
//
// TokenIssuer mints HS256 JWTs for two purposes, distinguished by audience:
// session tokens and password-reset tokens. Session tokens are stateless and
// revoked only through a Denylist. Reset tokens are single-use: the SHA-256
// of the active token is stored per user and consumed transactionally.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - signup, login, logout, password change, admin user management
//   - PasswordResetService - password reset request and confirm
//   - Guard - session token authentication for protected requests
//
// Services are created with New* constructors that validate dependencies.
package auth
