package mirror

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Store is the mirror database as seen by the reconciler.
type Store interface {
	// ActiveSubscriptions returns every subscription matching f.
	ActiveSubscriptions(ctx context.Context, f ActiveFilter) ([]Subscription, error)

	// FindUserByCustomerID returns the user owning a ledger customer.
	// Returns ErrUserNotFound if there is none.
	FindUserByCustomerID(ctx context.Context, customerID string) (*User, error)

	// UpdateSubscription sets exactly the fields in patch on the subscription
	// keyed by ledgerSubID. Returns ErrSubscriptionNotFound if nothing matched.
	UpdateSubscription(ctx context.Context, ledgerSubID string, patch SubscriptionPatch) error

	// InsertSubscription stores a new subscription and fills sub.ID.
	// Returns ErrSubscriptionExists if its ledger id is already mirrored.
	InsertSubscription(ctx context.Context, sub *Subscription) error

	// UpdateUserSubscriptionSummary overwrites the user's subscription summary.
	// Returns ErrUserNotFound for an unknown user and ErrSummaryGuarded when
	// guard rejects the write.
	UpdateUserSubscriptionSummary(ctx context.Context, userID bson.ObjectID, summary UserSummary, guard SummaryGuard) error
}
