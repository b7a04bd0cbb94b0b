package reconcile_test

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
)

var (
	t0 = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	t2 = time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
)

func fixedClock() time.Time { return time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC) }

func ledgerSub(id, customer string, status ledger.Status, end time.Time) ledger.Subscription {
	return ledger.Subscription{
		ID:                 id,
		CustomerID:         customer,
		Status:             status,
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   end,
		Items: []ledger.Item{{
			ID: "si_" + id,
			Price: &ledger.Price{
				ID:         "price_a",
				UnitAmount: 1500,
				Currency:   "usd",
				Interval:   "month",
				LookupKey:  "starter_monthly",
				Metadata:   map[string]string{"tier": "starter", "seats": "3"},
			},
		}},
	}
}

// mirrorOf returns the mirror record a fully synced pass would leave for l
// under the enrich policy.
func mirrorOf(l ledger.Subscription, userID bson.ObjectID) mirror.Subscription {
	p := l.Price()
	meta := map[string]any{
		"createdAt":     t0,
		"priceAmount":   p.UnitAmount,
		"priceCurrency": p.Currency,
		"priceInterval": p.Interval,
	}
	priceMeta := map[string]any{}
	for k, v := range p.Metadata {
		meta[k] = v
		priceMeta[k] = v
	}
	return mirror.Subscription{
		ID:                   bson.NewObjectID(),
		UserID:               userID,
		LedgerSubscriptionID: l.ID,
		PriceID:              p.ID,
		PriceLookupKey:       p.LookupKey,
		PriceMetadata:        priceMeta,
		Status:               string(l.Status),
		CurrentPeriodStart:   l.CurrentPeriodStart,
		CurrentPeriodEnd:     l.CurrentPeriodEnd,
		CancelAtPeriodEnd:    l.CancelAtPeriodEnd,
		Metadata:             meta,
	}
}

func defaultPolicy() reconcile.Policy {
	return reconcile.Policy{Statuses: []ledger.Status{ledger.StatusActive}, Metadata: reconcile.PolicyEnrich}
}
