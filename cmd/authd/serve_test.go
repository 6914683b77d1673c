// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/authd/internal/auth/memory"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	cfg.JWT.Secret = testSecret
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.ShutdownTimeout = 5 * time.Second
	cfg.Metrics.Addr = ""
	cfg.Hasher = config.HasherConfig{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

// fakeShutdown stands in for the signal-driven shutdown waiter. It hands
// the registered operations to the test and returns whatever code the
// test sends.
type fakeShutdown struct {
	ops  chan map[string]gfshutdown.Operation
	code chan int
}

func newFakeShutdown() *fakeShutdown {
	return &fakeShutdown{
		ops:  make(chan map[string]gfshutdown.Operation, 1),
		code: make(chan int, 1),
	}
}

func (f *fakeShutdown) wait(_ context.Context, _ time.Duration, ops map[string]gfshutdown.Operation) <-chan int {
	f.ops <- ops
	return f.code
}

func (f *fakeShutdown) started(t *testing.T) map[string]gfshutdown.Operation {
	t.Helper()
	select {
	case ops := <-f.ops:
		return ops
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not reach the shutdown waiter")
		return nil
	}
}

// capturingListener records the address of the listener it creates.
func capturingListener(addr chan<- string) func(network, address string) (net.Listener, error) {
	return func(network, address string) (net.Listener, error) {
		ln, err := net.Listen(network, address)
		if err == nil {
			addr <- ln.Addr().String()
		}
		return ln, err
	}
}

// trackedBackend opens the in-memory backend and records when it is closed.
func trackedBackend(closed *bool) backendFactory {
	return func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
		b, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error {
			*closed = true
			return nil
		})
		return b, nil
	}
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

// mockObservabilityServer implements ObservabilityServer for testing.
type mockObservabilityServer struct {
	startFunc func() (<-chan error, error)
	stopFunc  func(ctx context.Context) error
	metrics   *observability.Metrics
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startFunc != nil {
		return m.startFunc()
	}
	return make(chan error, 1), nil
}

func (m *mockObservabilityServer) Stop(ctx context.Context) error {
	if m.stopFunc != nil {
		return m.stopFunc(ctx)
	}
	return nil
}

func (m *mockObservabilityServer) Addr() string { return "127.0.0.1:9100" }

func (m *mockObservabilityServer) Metrics() *observability.Metrics {
	if m.metrics == nil {
		m.metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return m.metrics
}

func TestRunServeWithDeps_HappyPath(t *testing.T) {
	cfg := testConfig()
	shutdown := newFakeShutdown()
	addrCh := make(chan string, 1)
	var closed bool

	cmd, out := newMockCmd()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
			BackendFactory:  trackedBackend(&closed),
			ListenerFactory: capturingListener(addrCh),
			ShutdownWaiter:  shutdown.wait,
			Logger:          discardLogger(),
		})
	}()

	ops := shutdown.started(t)
	addr := <-addrCh

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "authd")

	require.Contains(t, ops, "authd")
	require.NoError(t, ops["authd"](context.Background()))
	shutdown.code <- 0

	require.NoError(t, waitResult(t, errCh))
	assert.True(t, closed, "backend should be closed on shutdown")
	assert.Contains(t, out.String(), "authd started")
}

func TestRunServeWithDeps_ShutdownFailure(t *testing.T) {
	cfg := testConfig()
	shutdown := newFakeShutdown()
	addrCh := make(chan string, 1)
	var closed bool

	cmd, _ := newMockCmd()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
			BackendFactory:  trackedBackend(&closed),
			ListenerFactory: capturingListener(addrCh),
			ShutdownWaiter:  shutdown.wait,
			Logger:          discardLogger(),
		})
	}()

	ops := shutdown.started(t)
	<-addrCh
	require.NoError(t, ops["authd"](context.Background()))
	shutdown.code <- 1

	err := waitResult(t, errCh)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SHUTDOWN_FAILED")
	errutil.AssertErrorContext(t, err, "exit_code", 1)
}

func TestRunServeWithDeps_ServerFailureShutsDown(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	shutdown := newFakeShutdown()
	addrCh := make(chan string, 1)
	obsErrs := make(chan error, 1)
	var closed, stopped bool

	cmd, _ := newMockCmd()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
			BackendFactory:  trackedBackend(&closed),
			ListenerFactory: capturingListener(addrCh),
			ObservabilityServerFactory: func(string, observability.ReadinessChecker) ObservabilityServer {
				return &mockObservabilityServer{
					startFunc: func() (<-chan error, error) { return obsErrs, nil },
					stopFunc: func(context.Context) error {
						stopped = true
						return nil
					},
				}
			},
			ShutdownWaiter: shutdown.wait,
			Logger:         discardLogger(),
		})
	}()

	shutdown.started(t)
	<-addrCh
	obsErrs <- errors.New("metrics listener died")

	err := waitResult(t, errCh)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SERVER_FAILED")
	assert.True(t, stopped)
	assert.True(t, closed)
}

func TestRunServeWithDeps_ReadinessFollowsLifecycle(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	shutdown := newFakeShutdown()
	addrCh := make(chan string, 1)
	checkerCh := make(chan observability.ReadinessChecker, 1)
	var closed bool

	cmd, _ := newMockCmd()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
			BackendFactory:  trackedBackend(&closed),
			ListenerFactory: capturingListener(addrCh),
			ObservabilityServerFactory: func(_ string, ready observability.ReadinessChecker) ObservabilityServer {
				checkerCh <- ready
				return &mockObservabilityServer{}
			},
			ShutdownWaiter: shutdown.wait,
			Logger:         discardLogger(),
		})
	}()

	ready := <-checkerCh
	ops := shutdown.started(t)
	<-addrCh
	assert.True(t, ready(), "ready once serving")

	require.NoError(t, ops["authd"](context.Background()))
	assert.False(t, ready(), "not ready after shutdown begins")
	shutdown.code <- 0
	require.NoError(t, waitResult(t, errCh))
}

func TestRunServeWithDeps_ObservabilityStartError(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	var closed bool

	cmd, _ := newMockCmd()
	err := runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
		BackendFactory: trackedBackend(&closed),
		ObservabilityServerFactory: func(string, observability.ReadinessChecker) ObservabilityServer {
			return &mockObservabilityServer{
				startFunc: func() (<-chan error, error) { return nil, errors.New("address in use") },
			}
		},
		ShutdownWaiter: newFakeShutdown().wait,
		Logger:         discardLogger(),
	})

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_START_FAILED")
	assert.True(t, closed)
}

func TestRunServeWithDeps_ListenError(t *testing.T) {
	cfg := testConfig()
	var closed bool

	cmd, _ := newMockCmd()
	err := runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
		BackendFactory: trackedBackend(&closed),
		ListenerFactory: func(string, string) (net.Listener, error) {
			return nil, errors.New("permission denied")
		},
		ShutdownWaiter: newFakeShutdown().wait,
		Logger:         discardLogger(),
	})

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "HTTP_LISTEN_FAILED")
	errutil.AssertErrorContext(t, err, "addr", "127.0.0.1:0")
	assert.True(t, closed)
}

func TestRunServeWithDeps_BackendError(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "cassandra"

	cmd, _ := newMockCmd()
	err := runServeWithDeps(context.Background(), cfg, cmd, &ServeDeps{
		ShutdownWaiter: newFakeShutdown().wait,
		Logger:         discardLogger(),
	})

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	configFile = ""
	t.Setenv("AUTHD_JWT_SECRET", "")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--storage-driver", "memory"})

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "jwt.secret")
}

// fakeDrainer records shutdown activity of the reset service.
type fakeDrainer struct {
	mu     sync.Mutex
	purges int
	log    *[]string
}

func (d *fakeDrainer) PurgeExpired(context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purges++
	return 1, nil
}

func (d *fakeDrainer) Drain(context.Context) error {
	*d.log = append(*d.log, "drain")
	return nil
}

func (d *fakeDrainer) purgeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.purges
}

func TestRuntime_ShutdownOrder(t *testing.T) {
	var order []string
	rt := &runtime{
		backend: &backend{closers: []func() error{
			func() error { order = append(order, "store"); return nil },
			func() error { order = append(order, "denylist"); return errors.New("already closed") },
		}},
		obs: &mockObservabilityServer{stopFunc: func(context.Context) error {
			order = append(order, "observability")
			return nil
		}},
		resets: &fakeDrainer{log: &order},
		logger: discardLogger(),
	}

	err := rt.shutdown(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already closed"))
	assert.Equal(t, []string{"drain", "observability", "denylist", "store"}, order)

	// Second call reports the same result without repeating work.
	assert.Equal(t, err, rt.shutdown(context.Background()))
	assert.Len(t, order, 4)
}

func TestRuntime_PurgeLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var order []string
	d := &fakeDrainer{log: &order}
	rt := &runtime{backend: &backend{}, resets: d, logger: discardLogger()}

	rt.startPurge(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return d.purgeCount() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, rt.shutdown(context.Background()))
	settled := d.purgeCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, d.purgeCount(), "purge loop should stop on shutdown")
}

func TestRuntime_PurgeLoopSweepsDenylist(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	denylist := memory.NewDenylist()
	for _, jti := range []string{"jti-1", "jti-2", "jti-3"} {
		require.NoError(t, denylist.Revoke(ctx, jti, time.Now().Add(20*time.Millisecond)))
	}
	require.Equal(t, 3, denylist.Len())

	var order []string
	rt := &runtime{backend: &backend{denylist: denylist}, resets: &fakeDrainer{log: &order}, logger: discardLogger()}
	rt.startPurge(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return denylist.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rt.shutdown(ctx))
}

func TestRuntime_PurgeDisabled(t *testing.T) {
	var order []string
	rt := &runtime{backend: &backend{}, resets: &fakeDrainer{log: &order}, logger: discardLogger()}

	rt.startPurge(context.Background(), 0)
	assert.Nil(t, rt.purgeStop)
	require.NoError(t, rt.shutdown(context.Background()))
}

func TestMonitorServerErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	errCh <- errors.New("test server error")

	done := make(chan struct{})
	go func() {
		monitorServerErrors(ctx, cancel, errCh, "test-server")
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled after server error")
	}
	<-done
}

func TestMonitorServerErrors_NilError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	errCh <- nil

	done := make(chan struct{})
	go func() {
		monitorServerErrors(ctx, cancel, errCh, "test-server")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitorServerErrors goroutine did not complete")
	}
	assert.NoError(t, ctx.Err(), "context should not be cancelled for nil error")
}

func TestMonitorServerErrors_ChannelClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error)
	close(errCh)

	done := make(chan struct{})
	go func() {
		monitorServerErrors(ctx, cancel, errCh, "test-server")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitorServerErrors goroutine did not complete")
	}
	assert.NoError(t, ctx.Err(), "context should not be cancelled when channel closes")
}

func TestMonitorServerErrors_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		monitorServerErrors(ctx, cancel, make(chan error), "test-server")
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitorServerErrors goroutine did not complete after context cancel")
	}
}
