package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
)

// Engine runs reconciliation passes: fetch the ledger snapshot, fetch the
// matching mirror records, compute the plan and apply it.
type Engine struct {
	ledger   ledger.Source
	store    mirror.Store
	policy   Policy
	dryRun   bool
	executor *Executor
	metrics  *Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine validates cfg and returns an engine. It panics if src or store
// is nil.
func NewEngine(src ledger.Source, store mirror.Store, cfg Config, opts ...Option) (*Engine, error) {
	if src == nil {
		panic("reconcile: ledger source is required")
	}
	if store == nil {
		panic("reconcile: mirror store is required")
	}
	if cfg.RepairConcurrency < 0 {
		return nil, errors.Join(ErrInvalidConfig, errors.New("repair concurrency must not be negative"))
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	return &Engine{
		ledger:   src,
		store:    store,
		policy:   policy,
		dryRun:   cfg.DryRun,
		executor: NewExecutor(store, policy, cfg, opts...),
		metrics:  o.metrics,
		now:      o.now,
		logger:   o.logger,
	}, nil
}

// Policy returns the engine's diff policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Run performs one pass. The returned report is never nil. Run returns an
// error only when the pass could not be planned; individual repair failures
// are recorded on the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	runID, ok := logger.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = logger.ContextWithRunID(ctx, runID)
	}

	report := &Report{RunID: runID, DryRun: e.dryRun, StartedAt: e.now()}
	e.logger.InfoContext(ctx, "reconciliation started",
		slog.Any("statuses", e.policy.statusNames()),
		slog.Bool("dry_run", e.dryRun),
	)

	err := e.run(ctx, report)
	report.finish(e.now(), err)
	e.metrics.observe(report)

	attrs := []any{
		slog.String("outcome", string(report.Outcome)),
		logger.Duration(time.Duration(report.DurationSeconds * float64(time.Second))),
		logger.Count("applied", report.Applied),
		logger.Count("skipped", report.Skipped),
		logger.Count("failed", report.Failed),
		logger.Error(err),
	}
	switch report.Outcome {
	case OutcomeFailed:
		e.logger.ErrorContext(ctx, "reconciliation failed", attrs...)
	case OutcomePartial:
		e.logger.WarnContext(ctx, "reconciliation finished with failures", attrs...)
	default:
		e.logger.InfoContext(ctx, "reconciliation finished", attrs...)
	}
	return report, err
}

func (e *Engine) run(ctx context.Context, report *Report) error {
	snap, err := e.ledger.FetchActive(ctx, e.policy.Statuses...)
	if err != nil {
		return err
	}
	report.Plan.Ledger = len(snap.Subscriptions)
	report.Plan.Unresolved = len(snap.Unresolved)

	records, err := e.store.ActiveSubscriptions(ctx, mirror.ActiveFilter{
		Statuses:  e.policy.statusNames(),
		LedgerIDs: snap.IDs(),
	})
	if err != nil {
		return errors.Join(ErrMirrorFetch, err)
	}
	report.Plan.Mirror = len(records)

	plan := ComputePlan(snap, records, e.policy)
	report.Plan.Orphans = len(plan.Orphans)
	report.Plan.Drifts = len(plan.Drifts)
	report.Plan.Missing = len(plan.Missing)
	report.Plan.Unchanged = len(plan.Unchanged)
	report.Plan.Deferred = len(plan.Deferred)
	report.Plan.Duplicates = len(plan.Duplicates)

	if len(plan.Deferred) > 0 {
		e.logger.WarnContext(ctx, "ledger state unknown, leaving mirror records untouched",
			slog.Any("subscription_ids", plan.Deferred))
	}
	for _, d := range plan.Duplicates {
		e.logger.WarnContext(ctx, "duplicate mirror record for ledger subscription",
			logger.SubscriptionID(d.LedgerSubscriptionID), slog.String("record_id", d.ID.Hex()))
	}

	e.executor.Apply(ctx, plan, report)
	return nil
}
