// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"
)

// Login lockout configuration.
const (
	// LockoutDuration is the time an account is locked after too many failures.
	LockoutDuration = 15 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7
)

// LockoutStatus describes the login throttling state of an account.
type LockoutStatus struct {
	// Locked indicates the account is temporarily locked.
	Locked bool

	// Remaining is the time until the lockout expires.
	Remaining time.Duration

	// AttemptsLeft is the number of failures allowed before the next lockout.
	AttemptsLeft int
}

// CheckFailures evaluates the lockout state at now.
// lockedUntil is the current lockout timestamp (nil if not locked).
// An elapsed lockout no longer blocks, whatever the failure count.
func CheckFailures(failures int, lockedUntil *time.Time, now time.Time) LockoutStatus {
	if lockedUntil != nil && lockedUntil.After(now) {
		return LockoutStatus{Locked: true, Remaining: lockedUntil.Sub(now)}
	}
	return LockoutStatus{AttemptsLeft: max(LockoutThreshold-failures, 1)}
}

// IsLockedOut returns true if the lockout time is after now.
func IsLockedOut(lockedUntil *time.Time, now time.Time) bool {
	return lockedUntil != nil && lockedUntil.After(now)
}

// ComputeLockoutTime returns the lockout timestamp for the given failure count,
// measured from now. Returns nil if failures < LockoutThreshold.
func ComputeLockoutTime(failures int, now time.Time) *time.Time {
	if failures < LockoutThreshold {
		return nil
	}
	lockout := now.UTC().Add(LockoutDuration)
	return &lockout
}

// ResetOnSuccess returns the values to set after a successful login.
func ResetOnSuccess() (int, *time.Time) {
	return 0, nil
}
