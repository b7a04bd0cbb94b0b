package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
)

// Executor applies a Plan to the mirror store. Repairs of distinct
// subscriptions run concurrently, except creations for one customer, which
// run in plan order. A failed repair is logged and recorded, never returned.
type Executor struct {
	store           mirror.Store
	policy          Policy
	concurrency     int
	syncUserOnDrift bool
	dryRun          bool
	now             func() time.Time
	logger          *slog.Logger
}

// NewExecutor returns an executor writing to store. It panics if store is nil.
func NewExecutor(store mirror.Store, policy Policy, cfg Config, opts ...Option) *Executor {
	if store == nil {
		panic("reconcile: mirror store is required")
	}
	o := newOptions(opts)
	return &Executor{
		store:           store,
		policy:          policy,
		concurrency:     max(cfg.RepairConcurrency, 1),
		syncUserOnDrift: cfg.SyncUserOnDrift,
		dryRun:          cfg.DryRun,
		now:             o.now,
		logger:          o.logger,
	}
}

// Apply runs every repair in plan and records the results on report.
func (e *Executor) Apply(ctx context.Context, plan Plan, report *Report) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.concurrency)
	record := func(res ...ActionResult) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range res {
			report.add(r)
		}
	}

	for _, m := range plan.Orphans {
		g.Go(func() error {
			record(e.cancelOrphan(ctx, m))
			return nil
		})
	}
	for _, d := range plan.Drifts {
		g.Go(func() error {
			record(e.correctDrift(ctx, d)...)
			return nil
		})
	}
	// Creations for one customer run sequentially in plan order so the last
	// summary written is always the one for the highest subscription id.
	for _, group := range byCustomer(plan.Missing) {
		g.Go(func() error {
			for _, l := range group {
				record(e.createMissing(ctx, l)...)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// byCustomer groups subs by customer id, keeping their relative order.
func byCustomer(subs []ledger.Subscription) [][]ledger.Subscription {
	idx := make(map[string]int, len(subs))
	var groups [][]ledger.Subscription
	for _, l := range subs {
		i, ok := idx[l.CustomerID]
		if !ok {
			i = len(groups)
			idx[l.CustomerID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], l)
	}
	return groups
}

func (e *Executor) cancelOrphan(ctx context.Context, m mirror.Subscription) ActionResult {
	res := ActionResult{
		Action:         ActionCancel,
		SubscriptionID: m.LedgerSubscriptionID,
		UserID:         hexID(m.UserID),
		Fields:         []string{FieldStatus},
	}
	if e.dryRun {
		res.Result = ResultPlanned
		return res
	}

	if err := e.store.UpdateSubscription(ctx, m.LedgerSubscriptionID, mirror.CancelPatch(e.now())); err != nil {
		return e.failed(ctx, res, err)
	}
	res.Result = ResultApplied
	e.logger.InfoContext(ctx, "orphan canceled",
		logger.Action(string(res.Action)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.UserID(res.UserID),
		slog.String("previous_status", m.Status),
	)
	return res
}

func (e *Executor) correctDrift(ctx context.Context, d Drift) []ActionResult {
	res := ActionResult{
		Action:         ActionCorrect,
		SubscriptionID: d.Ledger.ID,
		CustomerID:     d.Ledger.CustomerID,
		UserID:         hexID(d.Mirror.UserID),
		Fields:         d.Changed,
	}
	if e.dryRun {
		res.Result = ResultPlanned
		return []ActionResult{res}
	}

	patch := d.Patch
	patch.UpdatedAt = e.now()
	if err := e.store.UpdateSubscription(ctx, d.Ledger.ID, patch); err != nil {
		if errors.Is(err, mirror.ErrSubscriptionNotFound) {
			err = errors.Join(ErrSubscriptionVanished, err)
		}
		return []ActionResult{e.failed(ctx, res, err)}
	}
	res.Result = ResultApplied
	e.logger.InfoContext(ctx, "drift corrected",
		logger.Action(string(res.Action)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.CustomerID(res.CustomerID),
		logger.UserID(res.UserID),
		logger.Fields(res.Fields),
	)

	out := []ActionResult{res}
	if e.syncUserOnDrift && !d.Mirror.UserID.IsZero() {
		summary := targetOf(d.Ledger, e.policy).summary(d.Ledger.ID, d.Mirror.PriceID)
		if r, ok := e.syncUser(ctx, d.Mirror.UserID, d.Ledger, summary, mirror.GuardSameSubscription); ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *Executor) createMissing(ctx context.Context, l ledger.Subscription) []ActionResult {
	res := ActionResult{
		Action:         ActionCreate,
		SubscriptionID: l.ID,
		CustomerID:     l.CustomerID,
	}

	user, err := e.store.FindUserByCustomerID(ctx, l.CustomerID)
	if errors.Is(err, mirror.ErrUserNotFound) {
		return []ActionResult{e.skipped(ctx, res, ReasonOwnerNotFound, errors.Join(ErrOwnerResolution, err))}
	}
	if err != nil {
		return []ActionResult{e.failed(ctx, res, errors.Join(ErrOwnerResolution, err))}
	}
	res.UserID = user.ID.Hex()

	t := targetOf(l, e.policy)
	if t.price == nil {
		return []ActionResult{e.skipped(ctx, res, ReasonMissingPrice, ErrMissingLedgerPrice)}
	}
	if e.dryRun {
		res.Result = ResultPlanned
		return []ActionResult{res}
	}

	// Insert last: a failed summary write leaves the subscription missing for
	// the next pass.
	if r, ok := e.syncUser(ctx, user.ID, l, t.summary(l.ID, ""), mirror.GuardNone); ok {
		return []ActionResult{r}
	}

	if err := e.store.InsertSubscription(ctx, t.record(l, user.ID, e.now())); err != nil {
		if errors.Is(err, mirror.ErrSubscriptionExists) {
			return []ActionResult{e.skipped(ctx, res, ReasonAlreadyExists, nil)}
		}
		return []ActionResult{e.failed(ctx, res, err)}
	}
	res.Result = ResultApplied
	e.logger.InfoContext(ctx, "record created",
		logger.Action(string(res.Action)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.CustomerID(res.CustomerID),
		logger.UserID(res.UserID),
	)
	return []ActionResult{res}
}

// syncUser writes the user summary. It reports a result only when the write
// did not apply cleanly, so a healthy pass lists one action per subscription.
func (e *Executor) syncUser(ctx context.Context, userID bson.ObjectID, l ledger.Subscription, summary mirror.UserSummary, guard mirror.SummaryGuard) (ActionResult, bool) {
	res := ActionResult{
		Action:         ActionSyncUser,
		SubscriptionID: l.ID,
		CustomerID:     l.CustomerID,
		UserID:         userID.Hex(),
	}

	err := e.store.UpdateUserSubscriptionSummary(ctx, userID, summary, guard)
	switch {
	case err == nil:
		e.logger.DebugContext(ctx, "user summary synced",
			logger.SubscriptionID(l.ID), logger.UserID(res.UserID))
		return res, false
	case errors.Is(err, mirror.ErrSummaryGuarded):
		return e.skipped(ctx, res, ReasonSummaryGuarded, nil), true
	case errors.Is(err, mirror.ErrUserNotFound):
		return e.skipped(ctx, res, ReasonOwnerNotFound, errors.Join(ErrOwnerResolution, err)), true
	}
	return e.failed(ctx, res, err), true
}

func (e *Executor) skipped(ctx context.Context, res ActionResult, reason string, err error) ActionResult {
	res.Result = ResultSkipped
	res.Reason = reason
	attrs := []any{
		logger.Action(string(res.Action)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.CustomerID(res.CustomerID),
		logger.UserID(nonEmpty(res.UserID)),
		logger.Reason(reason),
		logger.Error(err),
	}
	if errors.Is(err, ErrOwnerResolution) {
		e.logger.ErrorContext(ctx, "record skipped", attrs...)
	} else {
		e.logger.WarnContext(ctx, "record skipped", attrs...)
	}
	return res
}

func (e *Executor) failed(ctx context.Context, res ActionResult, err error) ActionResult {
	if !errors.Is(err, ErrOwnerResolution) {
		err = errors.Join(ErrWrite, err)
	}
	res.Result = ResultFailed
	res.Error = err.Error()
	e.logger.ErrorContext(ctx, "repair failed",
		logger.Action(string(res.Action)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.CustomerID(res.CustomerID),
		logger.UserID(nonEmpty(res.UserID)),
		logger.Error(err),
	)
	return res
}

func hexID(id bson.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
