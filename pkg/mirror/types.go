package mirror

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection names.
const (
	SubscriptionsCollection = "subscriptions"
	UsersCollection         = "users"
)

// Keys of the subscription metadata bag that the mirror owns. Ledger price
// metadata is never copied over them.
const (
	MetaCreatedAt               = "createdAt"
	MetaUpdatedAt               = "updatedAt"
	MetaCreatedByReconciliation = "createdByReconciliation"
	MetaPriceAmount             = "priceAmount"
	MetaPriceCurrency           = "priceCurrency"
	MetaPriceInterval           = "priceInterval"
)

var reservedMetadataKeys = map[string]struct{}{
	MetaCreatedAt:               {},
	MetaUpdatedAt:               {},
	MetaCreatedByReconciliation: {},
	MetaPriceAmount:             {},
	MetaPriceCurrency:           {},
	MetaPriceInterval:           {},
}

// CopyableMetadataKey reports whether a ledger price metadata key may be
// copied into the metadata bag as metadata.<key>.
func CopyableMetadataKey(key string) bool {
	if key == "" || strings.Contains(key, ".") || strings.HasPrefix(key, "$") {
		return false
	}
	_, reserved := reservedMetadataKeys[key]
	return !reserved
}

// Subscription is a mirror subscription document.
type Subscription struct {
	ID                   bson.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID               bson.ObjectID  `bson:"userId" json:"user_id"`
	LedgerSubscriptionID string         `bson:"stripeSubscriptionId" json:"stripe_subscription_id"`
	PriceID              string         `bson:"stripePriceId" json:"stripe_price_id"`
	PriceLookupKey       string         `bson:"stripePriceLookupKey" json:"stripe_price_lookup_key,omitempty"`
	PriceMetadata        map[string]any `bson:"stripePriceMetadata" json:"stripe_price_metadata,omitempty"`
	Status               string         `bson:"status" json:"status"`
	CurrentPeriodStart   time.Time      `bson:"currentPeriodStart" json:"current_period_start"`
	CurrentPeriodEnd     time.Time      `bson:"currentPeriodEnd" json:"current_period_end"`
	CancelAtPeriodEnd    bool           `bson:"cancelAtPeriodEnd" json:"cancel_at_period_end"`
	Metadata             map[string]any `bson:"metadata" json:"metadata,omitempty"`
}

// User is the subset of a user document the reconciler reads and writes.
type User struct {
	ID               bson.ObjectID  `bson:"_id" json:"id"`
	Email            string         `bson:"email,omitempty" json:"email,omitempty"`
	StripeCustomerID string         `bson:"stripeCustomerId" json:"stripe_customer_id"`
	Subscription     *UserSummary   `bson:"subscription,omitempty" json:"subscription,omitempty"`
	Metadata         map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// UserSummary is the copy of subscription state denormalized onto the user.
type UserSummary struct {
	Status             string    `bson:"status" json:"status"`
	CurrentPeriodStart time.Time `bson:"currentPeriodStart" json:"current_period_start"`
	CurrentPeriodEnd   time.Time `bson:"currentPeriodEnd" json:"current_period_end"`
	PlanID             string    `bson:"planId" json:"plan_id"`
	SubscriptionID     string    `bson:"subscriptionId" json:"subscription_id"`
}

// SummaryGuard restricts which users a summary write may touch.
type SummaryGuard int

const (
	// GuardNone writes the summary unconditionally.
	GuardNone SummaryGuard = iota
	// GuardSameSubscription writes only when the user has no summary yet or
	// the summary already references the same ledger subscription.
	GuardSameSubscription
)

// Allows reports whether the guard lets summary overwrite u's summary.
func (g SummaryGuard) Allows(u *User, summary UserSummary) bool {
	if g == GuardNone || u.Subscription == nil {
		return true
	}
	cur := u.Subscription.SubscriptionID
	return cur == "" || cur == summary.SubscriptionID
}

// ActiveFilter selects mirror subscriptions for a pass: those whose status is
// in Statuses or whose ledger id is in LedgerIDs.
type ActiveFilter struct {
	Statuses  []string
	LedgerIDs []string
}
