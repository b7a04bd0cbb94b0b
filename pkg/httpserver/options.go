package httpserver

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*config)

// WithAddr sets the listen address. ":0" picks a free port, see Server.Addr.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: WithAddr: empty address")
	}
	return func(c *config) { c.addr = addr }
}

func WithReadTimeout(d time.Duration) Option {
	return positive("WithReadTimeout", d, func(c *config) { c.readTimeout = d })
}

func WithWriteTimeout(d time.Duration) Option {
	return positive("WithWriteTimeout", d, func(c *config) { c.writeTimeout = d })
}

func WithIdleTimeout(d time.Duration) Option {
	return positive("WithIdleTimeout", d, func(c *config) { c.idleTimeout = d })
}

// WithShutdownTimeout bounds in-flight request draining and stop hooks.
func WithShutdownTimeout(d time.Duration) Option {
	return positive("WithShutdownTimeout", d, func(c *config) { c.shutdownTimeout = d })
}

// WithLogger sets the logger. Nil keeps the discarding default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStartHook registers fn to run once the listener is bound, before the
// first request is served.
func WithStartHook(fn func(ctx context.Context)) Option {
	if fn == nil {
		panic("httpserver: WithStartHook: nil hook")
	}
	return func(c *config) { c.startHooks = append(c.startHooks, fn) }
}

// WithStopHook registers fn to run after the listener is drained. Hook errors
// are returned from Shutdown wrapped with ErrShutdown.
func WithStopHook(fn func(ctx context.Context) error) Option {
	if fn == nil {
		panic("httpserver: WithStopHook: nil hook")
	}
	return func(c *config) { c.stopHooks = append(c.stopHooks, fn) }
}

func positive(name string, d time.Duration, apply Option) Option {
	if d <= 0 {
		panic("httpserver: " + name + ": duration must be > 0")
	}
	return apply
}
