package reconcile

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// Option configures an Engine or Executor.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func newOptions(opts []Option) *options {
	o := &options{
		logger: logger.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger for pass and audit events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records pass outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
