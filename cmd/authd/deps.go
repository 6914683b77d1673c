// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/holomush/authd/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// BackendFactory opens the credential store, denylist and notifier.
	// Default: openBackend
	BackendFactory backendFactory

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ShutdownWaiter blocks until a termination signal, runs ops within
	// timeout and reports an exit code.
	// Default: gfshutdown.GracefulShutdown
	ShutdownWaiter func(ctx context.Context, timeout time.Duration, ops map[string]gfshutdown.Operation) <-chan int

	// Logger overrides the logger built from configuration.
	Logger *slog.Logger
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
