// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth/mocks"
)

// passthroughTx returns a transactor mock that simply runs fn.
func passthroughTx(t *testing.T) *mocks.MockTransactor {
	t.Helper()
	tx := mocks.NewMockTransactor(t)
	tx.On("WithinTx", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }).
		Maybe()
	return tx
}

// recordingObserver collects observed outcomes.
type recordingObserver struct {
	mu            sync.Mutex
	operations    map[string][]string
	notifications []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{operations: make(map[string][]string)}
}

func (o *recordingObserver) ObserveOperation(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.operations[op] = append(o.operations[op], outcome)
}

func (o *recordingObserver) ObserveNotification(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications = append(o.notifications, outcome)
}

func (o *recordingObserver) outcomes(op string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.operations[op]...)
}

func (o *recordingObserver) notified() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.notifications...)
}
