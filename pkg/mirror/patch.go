package mirror

import (
	"maps"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// SubscriptionPatch is a partial update of a mirror subscription. Nil fields
// are left untouched.
type SubscriptionPatch struct {
	Status             *string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
	PriceID            *string
	PriceLookupKey     *string
	// PriceMetadata replaces the whole price metadata snapshot when non-nil.
	PriceMetadata map[string]any
	// Metadata sets individual keys of the metadata bag.
	Metadata map[string]any
	// UpdatedAt sets metadata.updatedAt when non-zero.
	UpdatedAt time.Time
}

// IsEmpty reports whether the patch sets nothing.
func (p SubscriptionPatch) IsEmpty() bool {
	return len(p.setDoc()) == 0
}

// Fields returns the document paths the patch sets, sorted.
func (p SubscriptionPatch) Fields() []string {
	set := p.setDoc()
	out := make([]string, 0, len(set))
	for _, e := range set {
		out = append(out, e.Key)
	}
	slices.Sort(out)
	return out
}

// Update returns the $set update document for the patch.
func (p SubscriptionPatch) Update() bson.D {
	return bson.D{{Key: "$set", Value: p.setDoc()}}
}

func (p SubscriptionPatch) setDoc() bson.D {
	var d bson.D
	add := func(k string, v any) { d = append(d, bson.E{Key: k, Value: v}) }

	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.CurrentPeriodStart != nil {
		add("currentPeriodStart", *p.CurrentPeriodStart)
	}
	if p.CurrentPeriodEnd != nil {
		add("currentPeriodEnd", *p.CurrentPeriodEnd)
	}
	if p.CancelAtPeriodEnd != nil {
		add("cancelAtPeriodEnd", *p.CancelAtPeriodEnd)
	}
	if p.PriceID != nil {
		add("stripePriceId", *p.PriceID)
	}
	if p.PriceLookupKey != nil {
		add("stripePriceLookupKey", *p.PriceLookupKey)
	}
	if p.PriceMetadata != nil {
		add("stripePriceMetadata", p.PriceMetadata)
	}
	for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
		add("metadata."+k, p.Metadata[k])
	}
	if !p.UpdatedAt.IsZero() {
		add("metadata."+MetaUpdatedAt, p.UpdatedAt)
	}
	return d
}

// Apply writes the patch onto s in memory.
func (p SubscriptionPatch) Apply(s *Subscription) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = *p.CurrentPeriodStart
	}
	if p.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = *p.CurrentPeriodEnd
	}
	if p.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.PriceID != nil {
		s.PriceID = *p.PriceID
	}
	if p.PriceLookupKey != nil {
		s.PriceLookupKey = *p.PriceLookupKey
	}
	if p.PriceMetadata != nil {
		s.PriceMetadata = maps.Clone(p.PriceMetadata)
	}
	if len(p.Metadata) > 0 || !p.UpdatedAt.IsZero() {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any)
		}
		maps.Copy(s.Metadata, p.Metadata)
		if !p.UpdatedAt.IsZero() {
			s.Metadata[MetaUpdatedAt] = p.UpdatedAt
		}
	}
}

// CancelPatch marks a subscription canceled and refreshes its update time.
func CancelPatch(now time.Time) SubscriptionPatch {
	status := "canceled"
	return SubscriptionPatch{Status: &status, UpdatedAt: now}
}

// SummaryUpdate returns the $set update document for a user summary.
func SummaryUpdate(summary UserSummary, now time.Time) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "subscription.status", Value: summary.Status},
		{Key: "subscription.currentPeriodStart", Value: summary.CurrentPeriodStart},
		{Key: "subscription.currentPeriodEnd", Value: summary.CurrentPeriodEnd},
		{Key: "subscription.planId", Value: summary.PlanID},
		{Key: "subscription.subscriptionId", Value: summary.SubscriptionID},
		{Key: "metadata." + MetaUpdatedAt, Value: now},
	}}}
}
