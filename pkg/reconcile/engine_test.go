package reconcile_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
)

func defaultConfig() reconcile.Config {
	return reconcile.Config{
		Statuses:          []string{"active"},
		MetadataPolicy:    reconcile.PolicyEnrich,
		SyncUserOnDrift:   true,
		RepairConcurrency: 4,
	}
}

func newEngine(t *testing.T, src ledger.Source, store mirror.Store, cfg reconcile.Config, opts ...reconcile.Option) *reconcile.Engine {
	t.Helper()
	opts = append([]reconcile.Option{reconcile.WithClock(fixedClock)}, opts...)
	engine, err := reconcile.NewEngine(src, store, cfg, opts...)
	require.NoError(t, err)
	return engine
}

func TestEngine_DriftAndOrphan(t *testing.T) {
	uid := bson.NewObjectID()
	l := ledgerSub("sub_1", "cus_1", ledger.StatusActive, t2)

	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1", Subscription: &mirror.UserSummary{
		Status: "past_due", CurrentPeriodEnd: t1, PlanID: "price_a", SubscriptionID: "sub_1",
	}})
	stale := mirrorOf(l, uid)
	stale.Status = "past_due"
	stale.CurrentPeriodEnd = t1
	store.PutSubscription(stale)
	store.PutSubscription(mirrorOf(ledgerSub("sub_2", "cus_1", ledger.StatusActive, t1), uid))

	engine := newEngine(t, ledger.NewMemory(l), store, defaultConfig())
	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeSuccess, report.Outcome)

	sub1, _ := store.Subscription("sub_1")
	assert.Equal(t, "active", sub1.Status)
	assert.Equal(t, t2, sub1.CurrentPeriodEnd)
	assert.Equal(t, fixedClock(), sub1.Metadata["updatedAt"])

	sub2, _ := store.Subscription("sub_2")
	assert.Equal(t, "canceled", sub2.Status)
	assert.Equal(t, "price_a", sub2.PriceID, "orphan cancel touches nothing else")

	user, _ := store.User(uid)
	require.NotNil(t, user.Subscription)
	assert.Equal(t, "active", user.Subscription.Status)
	assert.Equal(t, t2, user.Subscription.CurrentPeriodEnd)

	assert.Equal(t, 1, report.Count(reconcile.ActionCorrect, reconcile.ResultApplied))
	assert.Equal(t, 1, report.Count(reconcile.ActionCancel, reconcile.ResultApplied))
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 2, report.Plan.Mirror)

	for _, w := range store.Writes() {
		if w.Key == "sub_2" {
			assert.Equal(t, []string{"metadata.updatedAt", "status"}, w.Fields)
		}
	}
}

func TestEngine_OrphanDoesNotTouchUser(t *testing.T) {
	uid := bson.NewObjectID()
	summary := &mirror.UserSummary{Status: "active", SubscriptionID: "sub_2"}
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1", Subscription: summary})
	store.PutSubscription(mirrorOf(ledgerSub("sub_2", "cus_1", ledger.StatusActive, t1), uid))

	_, err := newEngine(t, ledger.NewMemory(), store, defaultConfig()).Run(context.Background())
	require.NoError(t, err)

	user, _ := store.User(uid)
	assert.Equal(t, "active", user.Subscription.Status)
	for _, w := range store.Writes() {
		assert.NotEqual(t, mirror.OpUpdateUserSummary, w.Op)
	}
}

func TestEngine_CreatesMissing(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_9"})

	l := ledgerSub("sub_3", "cus_9", ledger.StatusActive, t1)
	report, err := newEngine(t, ledger.NewMemory(l), store, defaultConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.ActionCreate, reconcile.ResultApplied))

	sub, ok := store.Subscription("sub_3")
	require.True(t, ok)
	assert.Equal(t, uid, sub.UserID)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "price_a", sub.PriceID)
	assert.Equal(t, "starter_monthly", sub.PriceLookupKey)
	assert.Equal(t, map[string]any{"tier": "starter", "seats": "3"}, sub.PriceMetadata)
	assert.Equal(t, true, sub.Metadata["createdByReconciliation"])
	assert.Equal(t, int64(1500), sub.Metadata["priceAmount"])
	assert.Equal(t, "usd", sub.Metadata["priceCurrency"])
	assert.Equal(t, "month", sub.Metadata["priceInterval"])
	assert.Equal(t, "starter", sub.Metadata["tier"])
	assert.Equal(t, fixedClock(), sub.Metadata["createdAt"])

	user, _ := store.User(uid)
	require.NotNil(t, user.Subscription)
	assert.Equal(t, mirror.UserSummary{
		Status:             "active",
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   t1,
		PlanID:             "price_a",
		SubscriptionID:     "sub_3",
	}, *user.Subscription)
}

func TestEngine_Idempotent(t *testing.T) {
	uid := bson.NewObjectID()
	other := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	store.PutUser(mirror.User{ID: other, StripeCustomerID: "cus_2"})

	drifted := ledgerSub("sub_1", "cus_1", ledger.StatusActive, t2)
	stale := mirrorOf(drifted, uid)
	stale.Status = "past_due"
	stale.PriceMetadata = map[string]any{"legacy": "yes"}
	store.PutSubscription(stale)
	store.PutSubscription(mirrorOf(ledgerSub("sub_orphan", "cus_1", ledger.StatusActive, t1), uid))

	src := ledger.NewMemory(drifted, ledgerSub("sub_new", "cus_2", ledger.StatusActive, t1))
	engine := newEngine(t, src, store, defaultConfig())

	first, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Applied)
	require.NotEmpty(t, store.Writes())

	store.ResetWrites()
	second, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.Writes(), "second pass must not write")
	assert.Zero(t, second.Applied)
	assert.Equal(t, 2, second.Plan.Unchanged)

	sub, _ := store.Subscription("sub_1")
	assert.Equal(t, "yes", sub.PriceMetadata["legacy"], "extra mirror keys survive")
}

func TestEngine_OwnerNotFoundIsSkipped(t *testing.T) {
	store := mirror.NewMemoryStore()
	report, err := newEngine(t, ledger.NewMemory(ledgerSub("sub_3", "cus_ghost", ledger.StatusActive, t1)), store, defaultConfig()).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, reconcile.ReasonOwnerNotFound, report.Actions[0].Reason)
	_, ok := store.Subscription("sub_3")
	assert.False(t, ok)
}

func TestEngine_MissingPriceIsSkipped(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	l := ledgerSub("sub_3", "cus_1", ledger.StatusActive, t1)
	l.Items = nil

	report, err := newEngine(t, ledger.NewMemory(l), store, defaultConfig()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, reconcile.ReasonMissingPrice, report.Actions[0].Reason)
	assert.Empty(t, store.Writes())
}

func TestEngine_InsertRaceIsSkipped(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	store.FailOn(mirror.OpInsertSubscription, "sub_3", mirror.ErrSubscriptionExists)

	report, err := newEngine(t, ledger.NewMemory(ledgerSub("sub_3", "cus_1", ledger.StatusActive, t1)), store, defaultConfig()).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, reconcile.ResultSkipped, report.Actions[0].Result)
	assert.Equal(t, reconcile.ReasonAlreadyExists, report.Actions[0].Reason)
}

func TestEngine_SummaryFailureRetriesCreate(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	store.FailOn(mirror.OpUpdateUserSummary, uid.Hex(), errors.New("write concern timeout"))

	engine := newEngine(t, ledger.NewMemory(ledgerSub("sub_3", "cus_1", ledger.StatusActive, t1)), store, defaultConfig())
	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomePartial, report.Outcome)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, reconcile.ActionSyncUser, report.Actions[0].Action)
	_, ok := store.Subscription("sub_3")
	assert.False(t, ok, "record is not inserted while the summary is stale")

	store.FailOn(mirror.OpUpdateUserSummary, uid.Hex(), nil)
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeSuccess, report.Outcome)
	assert.Equal(t, 1, report.Count(reconcile.ActionCreate, reconcile.ResultApplied))

	_, ok = store.Subscription("sub_3")
	assert.True(t, ok)
	user, _ := store.User(uid)
	require.NotNil(t, user.Subscription)
	assert.Equal(t, "sub_3", user.Subscription.SubscriptionID)
	assert.Equal(t, "active", user.Subscription.Status)
}

func TestEngine_WriteFailureDoesNotAbortPass(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	store.PutSubscription(mirrorOf(ledgerSub("sub_a", "cus_1", ledger.StatusActive, t1), uid))
	store.PutSubscription(mirrorOf(ledgerSub("sub_b", "cus_1", ledger.StatusActive, t1), uid))
	store.FailOn(mirror.OpUpdateSubscription, "sub_a", errors.New("write concern timeout"))

	engine := newEngine(t, ledger.NewMemory(), store, defaultConfig())
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reconcile.OutcomePartial, report.Outcome)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Applied)
	require.Len(t, report.Actions, 2)
	assert.Equal(t, "sub_a", report.Actions[0].SubscriptionID)
	assert.Contains(t, report.Actions[0].Error, "write concern timeout")

	b, _ := store.Subscription("sub_b")
	assert.Equal(t, "canceled", b.Status)

	store.FailOn(mirror.OpUpdateSubscription, "sub_a", nil)
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeSuccess, report.Outcome)
	a, _ := store.Subscription("sub_a")
	assert.Equal(t, "canceled", a.Status, "next pass heals the record")
}

func TestEngine_DeferredRecordsAreLeftAlone(t *testing.T) {
	uid := bson.NewObjectID()
	l := ledgerSub("sub_1", "cus_1", ledger.StatusActive, t2)
	store := mirror.NewMemoryStore()
	stale := mirrorOf(l, uid)
	stale.Status = "past_due"
	store.PutSubscription(stale)

	src := ledger.NewMemory(l)
	src.MarkUnresolved("sub_1")

	report, err := newEngine(t, src, store, defaultConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Plan.Deferred)
	assert.Empty(t, store.Writes())
}

func TestEngine_LedgerFailureAbortsPass(t *testing.T) {
	store := mirror.NewMemoryStore()
	store.PutSubscription(mirrorOf(ledgerSub("sub_1", "cus_1", ledger.StatusActive, t1), bson.NewObjectID()))
	src := ledger.NewMemory()
	src.FailWith(errors.Join(ledger.ErrIntegration, errors.New("connection refused")))

	report, err := newEngine(t, src, store, defaultConfig()).Run(context.Background())
	require.ErrorIs(t, err, ledger.ErrIntegration)
	require.NotNil(t, report)
	assert.Equal(t, reconcile.OutcomeFailed, report.Outcome)
	assert.Empty(t, store.Writes(), "no partial diff against incomplete data")
}

func TestEngine_MirrorFailure(t *testing.T) {
	store := mirror.NewMemoryStore()
	store.FailOn(mirror.OpFindSubscriptions, "", errors.New("no primary"))

	_, err := newEngine(t, ledger.NewMemory(), store, defaultConfig()).Run(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrMirrorFetch)
}

func TestEngine_DryRun(t *testing.T) {
	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	store.PutSubscription(mirrorOf(ledgerSub("sub_orphan", "cus_1", ledger.StatusActive, t1), uid))

	cfg := defaultConfig()
	cfg.DryRun = true
	report, err := newEngine(t, ledger.NewMemory(ledgerSub("sub_new", "cus_1", ledger.StatusActive, t1)), store, cfg).
		Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Count(reconcile.ActionCancel, reconcile.ResultPlanned))
	assert.Equal(t, 1, report.Count(reconcile.ActionCreate, reconcile.ResultPlanned))
	assert.Empty(t, store.Writes())
}

func TestEngine_UserSyncGuard(t *testing.T) {
	uid := bson.NewObjectID()
	l := ledgerSub("sub_1", "cus_1", ledger.StatusActive, t2)
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1", Subscription: &mirror.UserSummary{
		Status: "active", SubscriptionID: "sub_newer",
	}})
	stale := mirrorOf(l, uid)
	stale.Status = "past_due"
	store.PutSubscription(stale)

	report, err := newEngine(t, ledger.NewMemory(l), store, defaultConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(reconcile.ActionSyncUser, reconcile.ResultSkipped))

	user, _ := store.User(uid)
	assert.Equal(t, "sub_newer", user.Subscription.SubscriptionID)
}

func TestEngine_UserSyncDisabled(t *testing.T) {
	uid := bson.NewObjectID()
	l := ledgerSub("sub_1", "cus_1", ledger.StatusActive, t2)
	store := mirror.NewMemoryStore()
	store.PutUser(mirror.User{ID: uid, StripeCustomerID: "cus_1"})
	stale := mirrorOf(l, uid)
	stale.Status = "past_due"
	store.PutSubscription(stale)

	cfg := defaultConfig()
	cfg.SyncUserOnDrift = false
	_, err := newEngine(t, ledger.NewMemory(l), store, cfg).Run(context.Background())
	require.NoError(t, err)

	user, _ := store.User(uid)
	assert.Nil(t, user.Subscription)
}

func TestEngine_RunIDFromContext(t *testing.T) {
	ctx := logger.ContextWithRunID(context.Background(), "run-42")
	report, err := newEngine(t, ledger.NewMemory(), mirror.NewMemoryStore(), defaultConfig()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-42", report.RunID)

	report, err = newEngine(t, ledger.NewMemory(), mirror.NewMemoryStore(), defaultConfig()).Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := reconcile.NewMetrics(reg)

	uid := bson.NewObjectID()
	store := mirror.NewMemoryStore()
	store.PutSubscription(mirrorOf(ledgerSub("sub_orphan", "cus_1", ledger.StatusActive, t1), uid))
	src := ledger.NewMemory(ledgerSub("sub_ghost", "cus_ghost", ledger.StatusActive, t1))

	engine := newEngine(t, src, store, defaultConfig(), reconcile.WithMetrics(metrics))
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	src.FailWith(ledger.ErrIntegration)
	_, err = engine.Run(context.Background())
	require.Error(t, err)

	expected := `
# HELP billsync_reconcile_passes_total Total reconciliation passes by outcome
# TYPE billsync_reconcile_passes_total counter
billsync_reconcile_passes_total{outcome="failed"} 1
billsync_reconcile_passes_total{outcome="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billsync_reconcile_passes_total"))

	expected = `
# HELP billsync_reconcile_actions_total Total repair actions by kind and result
# TYPE billsync_reconcile_actions_total counter
billsync_reconcile_actions_total{action="cancel_orphan",result="applied"} 1
billsync_reconcile_actions_total{action="create_missing",result="skipped"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billsync_reconcile_actions_total"))

	expected = `
# HELP billsync_reconcile_ledger_subscriptions Ledger subscriptions retrieved by the last pass
# TYPE billsync_reconcile_ledger_subscriptions gauge
billsync_reconcile_ledger_subscriptions 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billsync_reconcile_ledger_subscriptions"))
}

func TestNewEngine_Validation(t *testing.T) {
	cfg := defaultConfig()
	cfg.Statuses = []string{"everything"}
	_, err := reconcile.NewEngine(ledger.NewMemory(), mirror.NewMemoryStore(), cfg)
	assert.ErrorIs(t, err, reconcile.ErrInvalidConfig)

	cfg = defaultConfig()
	cfg.MetadataPolicy = "merge"
	_, err = reconcile.NewEngine(ledger.NewMemory(), mirror.NewMemoryStore(), cfg)
	assert.ErrorIs(t, err, reconcile.ErrUnknownPolicy)

	assert.Panics(t, func() { _, _ = reconcile.NewEngine(nil, mirror.NewMemoryStore(), defaultConfig()) })
	assert.Panics(t, func() { _, _ = reconcile.NewEngine(ledger.NewMemory(), nil, defaultConfig()) })
}
