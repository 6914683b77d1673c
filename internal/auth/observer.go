// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// Outcome labels reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Observer receives operation outcomes, typically for metrics.
type Observer interface {
	// ObserveOperation records the outcome of a service operation.
	ObserveOperation(operation, outcome string)

	// ObserveNotification records the outcome of a reset email delivery.
	ObserveNotification(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string) {}
func (nopObserver) ObserveNotification(string)      {}
