package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/lock"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
)

// Source names what started a pass.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceStartup  Source = "startup"
	SourceCLI      Source = "cli"
	SourceHTTP     Source = "http"
)

// Trigger results recorded in metrics.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultDropped   = "dropped"
	resultLockHeld  = "lock_held"
	resultPanicked  = "panicked"
)

// Pass runs one reconciliation pass. *reconcile.Engine implements it.
type Pass interface {
	Run(ctx context.Context) (*reconcile.Report, error)
}

// Runner guarantees at most one pass at a time. A trigger that arrives while
// a pass is running is dropped, not queued.
type Runner struct {
	pass    Pass
	locker  lock.Locker
	timeout time.Duration
	running atomic.Bool
	metrics *Metrics
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLocker adds a cross-process lock taken after the in-process guard.
func WithLocker(l lock.Locker) RunnerOption {
	return func(r *Runner) {
		r.locker = l
	}
}

// WithTimeout bounds every pass. Zero disables the bound.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithMetrics records trigger outcomes on m.
func WithMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner returns a runner for pass. It panics if pass is nil.
func NewRunner(pass Pass, opts ...RunnerOption) *Runner {
	if pass == nil {
		panic("trigger: pass is required")
	}
	r := &Runner{pass: pass, logger: logger.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Running reports whether a pass is in progress in this process.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Trigger runs a pass synchronously. It returns ErrAlreadyRunning when a
// pass is already in progress, ErrLockHeld when another instance holds the
// distributed lock and ErrPassPanicked when the pass panicked. Otherwise it
// returns the pass's report and error.
func (r *Runner) Trigger(ctx context.Context, source Source) (*reconcile.Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.trigger(source, resultDropped)
		r.logger.WarnContext(ctx, "reconciliation trigger dropped, pass in progress", logger.Trigger(string(source)))
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	r.metrics.setRunning(true)
	defer r.metrics.setRunning(false)

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)

	if r.locker != nil {
		lease, err := r.locker.TryLock(ctx)
		if err != nil {
			r.metrics.trigger(source, resultLockHeld)
			if errors.Is(err, lock.ErrNotAcquired) {
				r.logger.InfoContext(ctx, "reconciliation skipped, another instance holds the lock", logger.Trigger(string(source)))
				return nil, errors.Join(ErrLockHeld, err)
			}
			r.logger.ErrorContext(ctx, "reconciliation lock unavailable", logger.Trigger(string(source)), logger.Error(err))
			return nil, errors.Join(ErrLockHeld, err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.WarnContext(ctx, "failed to release reconciliation lock", logger.Error(err))
			}
		}()
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.DebugContext(ctx, "reconciliation triggered", logger.Trigger(string(source)))
	report, err := r.run(ctx)
	if report != nil {
		report.Trigger = string(source)
	}

	switch {
	case errors.Is(err, ErrPassPanicked):
		r.metrics.trigger(source, resultPanicked)
	case err != nil:
		r.metrics.trigger(source, resultFailed)
	default:
		r.metrics.trigger(source, resultCompleted)
	}
	return report, err
}

func (r *Runner) run(ctx context.Context) (report *reconcile.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			report = nil
			err = fmt.Errorf("%w: %v", ErrPassPanicked, p)
			r.logger.ErrorContext(ctx, "reconciliation pass panicked",
				logger.Error(err), slog.String("stack", string(debug.Stack())))
		}
	}()
	return r.pass.Run(ctx)
}
