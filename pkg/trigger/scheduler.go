package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// Scheduler fires the runner on a cron schedule. Failed or dropped passes
// are logged; they never stop later runs.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	entry  cron.EntryID
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	extra  sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	logger   *slog.Logger
	location *time.Location
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLocation evaluates the schedule in loc instead of UTC.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(o *schedulerOptions) {
		if loc != nil {
			o.location = loc
		}
	}
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 5m") and returns a stopped scheduler for runner.
func NewScheduler(runner *Runner, spec string, opts ...SchedulerOption) (*Scheduler, error) {
	if runner == nil {
		panic("trigger: runner is required")
	}
	o := &schedulerOptions{logger: logger.Discard(), location: time.UTC}
	for _, opt := range opts {
		opt(o)
	}

	cl := cronLogger{log: o.logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(o.location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		runner: runner,
		logger: o.logger,
		ctx:    context.Background(),
	}

	id, err := s.cron.AddFunc(spec, func() { s.tick(SourceSchedule) })
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing. Passes run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "reconciliation scheduler started", slog.Time("next_run", s.Next()))
}

// RunNow fires one pass in the background outside the schedule, tagged with
// source. It must be called after Start. Stop waits for it like a scheduled
// pass.
func (s *Scheduler) RunNow(source Source) {
	s.extra.Go(func() { s.tick(source) })
}

// Stop stops firing and waits for a running pass to finish. If ctx expires
// first, the running pass is canceled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	done, finish := context.WithCancel(context.Background())
	go func() {
		<-cronDone.Done()
		s.extra.Wait()
		finish()
	}()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-done.Done():
		if cancel != nil {
			cancel()
		}
		s.logger.InfoContext(ctx, "reconciliation scheduler stopped")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return ctx.Err()
	}
}

// Next returns the next scheduled run time, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick(source Source) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	report, err := s.runner.Trigger(ctx, source)
	switch {
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrLockHeld):
		// logged by the runner
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled reconciliation failed", logger.Trigger(string(source)), logger.Error(err))
	case report != nil:
		s.logger.DebugContext(ctx, "scheduled reconciliation finished", logger.Trigger(string(source)),
			slog.String("outcome", string(report.Outcome)), slog.Time("next_run", s.Next()))
	}
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, append([]any{logger.Component("cron")}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Component("cron"), logger.Error(err)}, keysAndValues...)...)
}
