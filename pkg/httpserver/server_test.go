package httpserver_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsync/pkg/httpserver"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

// start runs srv in the background and returns once the listener is bound.
func start(t *testing.T, ctx context.Context, srv *httpserver.Server, bound <-chan struct{}) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, okHandler()) }()
	select {
	case <-bound:
	case err := <-done:
		require.FailNow(t, "server exited early", "%v", err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "server did not start")
	}
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Run did not return")
		return nil
	}
}

func TestServer_ServesUntilContextEnds(t *testing.T) {
	t.Parallel()
	bound := make(chan struct{})
	srv := httpserver.New(
		httpserver.WithAddr("127.0.0.1:0"),
		httpserver.WithShutdownTimeout(time.Second),
		httpserver.WithStartHook(func(context.Context) { close(bound) }),
	)
	assert.Empty(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, ctx, srv, bound)

	resp, err := http.Get("http://" + srv.Addr())
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	require.NoError(t, wait(t, done))
	require.NoError(t, srv.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestServer_ManualShutdownRunsStopHooks(t *testing.T) {
	t.Parallel()
	bound := make(chan struct{})
	var stopped atomic.Int32
	srv := httpserver.New(
		httpserver.WithAddr("127.0.0.1:0"),
		httpserver.WithStartHook(func(context.Context) { close(bound) }),
		httpserver.WithStopHook(func(context.Context) error { stopped.Add(1); return nil }),
	)
	done := start(t, context.Background(), srv, bound)

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, wait(t, done))
	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, int32(1), stopped.Load())
}

func TestServer_StopHookErrorIsReported(t *testing.T) {
	t.Parallel()
	bound := make(chan struct{})
	hookErr := errors.New("scheduler stop timed out")
	srv := httpserver.New(
		httpserver.WithAddr("127.0.0.1:0"),
		httpserver.WithStartHook(func(context.Context) { close(bound) }),
		httpserver.WithStopHook(func(context.Context) error { return hookErr }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, ctx, srv, bound)

	cancel()
	err := wait(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, httpserver.ErrShutdown)
	assert.ErrorIs(t, err, hookErr)
}

func TestServer_BindFailure(t *testing.T) {
	t.Parallel()
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	srv := httpserver.New(httpserver.WithAddr(taken.Addr().String()))
	err = srv.Run(context.Background(), okHandler())
	require.Error(t, err)
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestServer_AlreadyRunning(t *testing.T) {
	t.Parallel()
	bound := make(chan struct{})
	srv := httpserver.New(
		httpserver.WithAddr("127.0.0.1:0"),
		httpserver.WithStartHook(func(context.Context) { close(bound) }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, ctx, srv, bound)

	err := srv.Run(context.Background(), okHandler())
	assert.ErrorIs(t, err, httpserver.ErrStart)
	assert.ErrorIs(t, err, httpserver.ErrAlreadyRunning)

	cancel()
	require.NoError(t, wait(t, done))
}

func TestServer_RunAfterShutdown(t *testing.T) {
	t.Parallel()
	srv := httpserver.New(httpserver.WithAddr("127.0.0.1:0"))
	require.NoError(t, srv.Shutdown(context.Background()))

	err := srv.Run(context.Background(), okHandler())
	assert.ErrorIs(t, err, httpserver.ErrStart)
	assert.ErrorIs(t, err, httpserver.ErrClosed)
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()
	bound := make(chan struct{})
	srv := httpserver.NewFromConfig(httpserver.Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		httpserver.WithStartHook(func(context.Context) { close(bound) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, ctx, srv, bound)
	assert.NotEmpty(t, srv.Addr())
	cancel()
	require.NoError(t, wait(t, done))
}

func TestOptions_Panic(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { httpserver.WithAddr("") })
	assert.Panics(t, func() { httpserver.WithReadTimeout(0) })
	assert.Panics(t, func() { httpserver.WithShutdownTimeout(-time.Second) })
	assert.Panics(t, func() { httpserver.WithStartHook(nil) })
	assert.Panics(t, func() { httpserver.WithStopHook(nil) })
}
