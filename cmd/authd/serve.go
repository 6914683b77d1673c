// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/pkg/errutil"
)

const readinessTimeout = 2 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authd HTTP API",
		Long: `Start the HTTP API together with the metrics and health endpoints.
SIGINT or SIGTERM drains in-flight requests and pending reset emails
before the stores are closed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return oops.With("operation", "load configuration").Wrap(err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("http-addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("redis-addr", "", "Redis address for the shared session denylist (empty = in-process)")
	addStorageFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts authd with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.BackendFactory == nil {
		deps.BackendFactory = openBackend
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.ShutdownWaiter == nil {
		deps.ShutdownWaiter = gfshutdown.GracefulShutdown
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.SetDefault("authd", version, cfg.Log.Format, cfg.Log.Level)
	}

	logger.Info("starting authd",
		"http_addr", cfg.HTTP.Addr,
		"storage_driver", cfg.Storage.Driver,
		"log_format", cfg.Log.Format)

	b, err := deps.BackendFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open backend").Wrap(err)
	}

	rt := &runtime{backend: b, logger: logger}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	readiness := func() bool {
		if !ready.Load() {
			return false
		}
		checkCtx, checkCancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer checkCancel()
		if err := b.ping(checkCtx); err != nil {
			logger.Warn("readiness check failed", errutil.ErrorAttrs(err)...)
			return false
		}
		return true
	}

	// Metrics are recorded even when the endpoint is disabled.
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		rt.obs = deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness)
		obsErrChan, err := rt.obs.Start()
		if err != nil {
			_ = rt.shutdown(context.Background())
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", rt.obs.Addr())
		metrics = rt.obs.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	svcs, err := newServices(cfg, b, logger, metrics)
	if err != nil {
		_ = rt.shutdown(context.Background())
		return oops.With("operation", "build services").Wrap(err)
	}
	rt.resets = svcs.resets

	api, err := httpapi.New(httpapi.Config{
		Auth:     svcs.auth,
		Resets:   svcs.resets,
		Guard:    svcs.guard,
		Logger:   logger,
		Observer: metrics,
		Version:  version,
	})
	if err != nil {
		_ = rt.shutdown(context.Background())
		return oops.With("operation", "build http api").Wrap(err)
	}

	ln, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = rt.shutdown(context.Background())
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	rt.api = api

	apiErrChan := make(chan error, 1)
	go func() {
		defer close(apiErrChan)
		if err := api.Serve(ln); err != nil {
			apiErrChan <- err
		}
	}()
	go monitorServerErrors(ctx, cancel, apiErrChan, "http")

	rt.startPurge(ctx, cfg.Reset.PurgeInterval)

	ready.Store(true)
	cmd.Println("authd started")
	logger.Info("authd ready", "addr", ln.Addr().String())

	ops := map[string]gfshutdown.Operation{
		"authd": func(opCtx context.Context) error {
			ready.Store(false)
			shutdownCtx, shutdownCancel := context.WithTimeout(opCtx, cfg.HTTP.ShutdownTimeout)
			defer shutdownCancel()
			return rt.shutdown(shutdownCtx)
		},
	}
	wait := deps.ShutdownWaiter(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout, ops)

	select {
	case code := <-wait:
		if code != 0 {
			return oops.Code("SHUTDOWN_FAILED").With("exit_code", code).Errorf("graceful shutdown did not complete cleanly")
		}
		logger.Info("shutdown complete")
		return nil
	case <-ctx.Done():
		logger.Info("server failed, shutting down")
		ready.Store(false)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		if err := rt.shutdown(shutdownCtx); err != nil {
			logger.Warn("error during shutdown", errutil.ErrorAttrs(err)...)
		}
		return oops.Code("SERVER_FAILED").Errorf("a server stopped unexpectedly")
	}
}

// drainer is the part of the reset service needed at shutdown.
type drainer interface {
	PurgeExpired(ctx context.Context) (int64, error)
	Drain(ctx context.Context) error
}

// runtime owns what serve started and tears it down in order: HTTP, the
// purge loop, pending reset emails, observability, then the stores.
type runtime struct {
	backend *backend
	api     *httpapi.Server
	obs     ObservabilityServer
	resets  drainer
	logger  *slog.Logger

	purgeStop context.CancelFunc
	purgeDone chan struct{}
	once      sync.Once
	err       error
}

func (rt *runtime) startPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 || rt.resets == nil {
		return
	}
	ctx, rt.purgeStop = context.WithCancel(ctx)
	rt.purgeDone = make(chan struct{})

	go func() {
		defer close(rt.purgeDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rt.sweepDenylist(ctx)
				n, err := rt.resets.PurgeExpired(ctx)
				if err != nil {
					errutil.LogErrorContext(ctx, rt.logger, "purge expired resets failed", err)
					continue
				}
				if n > 0 {
					rt.logger.InfoContext(ctx, "purged expired resets", "count", n)
				}
			}
		}
	}()
}

// sweeper is implemented by denylists that hold expired entries in process.
type sweeper interface {
	Sweep() int
}

func (rt *runtime) sweepDenylist(ctx context.Context) {
	if rt.backend == nil {
		return
	}
	if sw, ok := rt.backend.denylist.(sweeper); ok {
		if n := sw.Sweep(); n > 0 {
			rt.logger.DebugContext(ctx, "swept expired denylist entries", "count", n)
		}
	}
}

// shutdown is safe to call more than once; later calls return the first result.
func (rt *runtime) shutdown(ctx context.Context) error {
	rt.once.Do(func() {
		var errs []error
		if rt.api != nil {
			if err := rt.api.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if rt.purgeStop != nil {
			rt.purgeStop()
			<-rt.purgeDone
		}
		if rt.resets != nil {
			if err := rt.resets.Drain(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if rt.obs != nil {
			if err := rt.obs.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := rt.backend.close(); err != nil {
			errs = append(errs, err)
		}
		rt.err = errors.Join(errs...)
	})
	return rt.err
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
