package reconcile

import (
	"maps"
	"math"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
)

// Tracked field names, as reported in drift change lists.
const (
	FieldStatus             = "status"
	FieldCurrentPeriodStart = "currentPeriodStart"
	FieldCurrentPeriodEnd   = "currentPeriodEnd"
	FieldCancelAtPeriodEnd  = "cancelAtPeriodEnd"
	FieldPriceID            = "stripePriceId"
	FieldPriceLookupKey     = "stripePriceLookupKey"
	FieldPriceMetadata      = "stripePriceMetadata"
)

// target is the mirror state implied by one ledger subscription.
type target struct {
	status string
	start  time.Time
	end    time.Time
	cancel bool
	price  *ledger.Price
	bag    map[string]any
}

func targetOf(l ledger.Subscription, p Policy) target {
	t := target{
		status: string(l.Status),
		start:  l.CurrentPeriodStart,
		end:    l.CurrentPeriodEnd,
		cancel: l.CancelAtPeriodEnd,
		price:  l.Price(),
	}
	if t.price == nil {
		return t
	}

	t.bag = map[string]any{
		mirror.MetaPriceAmount:   t.price.UnitAmount,
		mirror.MetaPriceCurrency: t.price.Currency,
		mirror.MetaPriceInterval: t.price.Interval,
	}
	if p.Metadata == PolicyEnrich {
		for k, v := range t.price.Metadata {
			if mirror.CopyableMetadataKey(k) {
				t.bag[k] = v
			}
		}
	}
	return t
}

// changes lists the tracked fields where m differs from t, in a fixed order.
func (t target) changes(m mirror.Subscription) []string {
	var out []string
	if m.Status != t.status {
		out = append(out, FieldStatus)
	}
	if !sameInstant(m.CurrentPeriodStart, t.start) {
		out = append(out, FieldCurrentPeriodStart)
	}
	if !sameInstant(m.CurrentPeriodEnd, t.end) {
		out = append(out, FieldCurrentPeriodEnd)
	}
	if m.CancelAtPeriodEnd != t.cancel {
		out = append(out, FieldCancelAtPeriodEnd)
	}
	if t.price == nil {
		return out
	}

	if m.PriceID != t.price.ID {
		out = append(out, FieldPriceID)
	}
	if m.PriceLookupKey != t.price.LookupKey {
		out = append(out, FieldPriceLookupKey)
	}
	for _, k := range slices.Sorted(maps.Keys(t.price.Metadata)) {
		if !sameValue(m.PriceMetadata[k], t.price.Metadata[k]) {
			out = append(out, FieldPriceMetadata)
			break
		}
	}
	for _, k := range slices.Sorted(maps.Keys(t.bag)) {
		if !sameValue(m.Metadata[k], t.bag[k]) {
			out = append(out, "metadata."+k)
		}
	}
	return out
}

// patch overwrites every tracked field with the ledger's values. Keys of
// the mirror's price metadata snapshot that the ledger does not carry are
// kept.
func (t target) patch(m mirror.Subscription) mirror.SubscriptionPatch {
	p := mirror.SubscriptionPatch{
		Status:             &t.status,
		CurrentPeriodStart: &t.start,
		CurrentPeriodEnd:   &t.end,
		CancelAtPeriodEnd:  &t.cancel,
	}
	if t.price == nil {
		return p
	}

	p.PriceID = &t.price.ID
	p.PriceLookupKey = &t.price.LookupKey
	p.PriceMetadata = make(map[string]any, len(m.PriceMetadata)+len(t.price.Metadata))
	maps.Copy(p.PriceMetadata, m.PriceMetadata)
	for k, v := range t.price.Metadata {
		p.PriceMetadata[k] = v
	}
	p.Metadata = maps.Clone(t.bag)
	return p
}

// record builds the mirror document for a ledger subscription that has no
// mirror counterpart yet. t must carry a price.
func (t target) record(l ledger.Subscription, userID bson.ObjectID, now time.Time) *mirror.Subscription {
	priceMeta := make(map[string]any, len(t.price.Metadata))
	for k, v := range t.price.Metadata {
		priceMeta[k] = v
	}

	bag := maps.Clone(t.bag)
	bag[mirror.MetaCreatedAt] = now
	bag[mirror.MetaUpdatedAt] = now
	bag[mirror.MetaCreatedByReconciliation] = true

	return &mirror.Subscription{
		UserID:               userID,
		LedgerSubscriptionID: l.ID,
		PriceID:              t.price.ID,
		PriceLookupKey:       t.price.LookupKey,
		PriceMetadata:        priceMeta,
		Status:               t.status,
		CurrentPeriodStart:   t.start,
		CurrentPeriodEnd:     t.end,
		CancelAtPeriodEnd:    t.cancel,
		Metadata:             bag,
	}
}

// summary is the user summary implied by the ledger state. planID falls
// back to the mirror's price id when the ledger returned no price.
func (t target) summary(ledgerID, planID string) mirror.UserSummary {
	if t.price != nil {
		planID = t.price.ID
	}
	return mirror.UserSummary{
		Status:             t.status,
		CurrentPeriodStart: t.start,
		CurrentPeriodEnd:   t.end,
		PlanID:             planID,
		SubscriptionID:     ledgerID,
	}
}

// sameInstant compares at second resolution, the ledger's precision.
func sameInstant(a, b time.Time) bool {
	return a.Unix() == b.Unix()
}

// sameValue compares a stored mirror value with the ledger's. Numbers are
// compared by value whatever their stored width; a missing value equals "".
func sameValue(stored, want any) bool {
	switch w := want.(type) {
	case string:
		switch s := stored.(type) {
		case nil:
			return w == ""
		case string:
			return s == w
		}
		return false
	case int64:
		n, ok := asInt64(stored)
		return ok && n == w
	case bool:
		b, ok := stored.(bool)
		return ok && b == w
	}
	return stored == want
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	case float32:
		if f := float64(n); f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}
