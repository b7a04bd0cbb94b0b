package mirror

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

// MongoStore is a Store backed by the subscriptions and users collections.
type MongoStore struct {
	subs   *mongo.Collection
	users  *mongo.Collection
	now    func() time.Time
	logger *slog.Logger
}

var _ Store = (*MongoStore)(nil)

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithClock overrides the time source used for update timestamps.
func WithClock(now func() time.Time) MongoOption {
	return func(s *MongoStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) MongoOption {
	return func(s *MongoStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewMongoStore returns a store over db. It panics if db is nil.
func NewMongoStore(db *mongo.Database, opts ...MongoOption) *MongoStore {
	if db == nil {
		panic("mirror: mongo database is required")
	}
	s := &MongoStore{
		subs:   db.Collection(SubscriptionsCollection),
		users:  db.Collection(UsersCollection),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the indexes the reconciler relies on. The unique
// index on the ledger subscription id enforces one mirror record per ledger
// subscription.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.subs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "stripeSubscriptionId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("stripeSubscriptionId_unique"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
	})
	if err != nil {
		return errors.Join(ErrStore, err)
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "stripeCustomerId", Value: 1}},
		Options: options.Index().SetName("stripeCustomerId"),
	})
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *MongoStore) ActiveSubscriptions(ctx context.Context, f ActiveFilter) ([]Subscription, error) {
	var or bson.A
	if len(f.Statuses) > 0 {
		or = append(or, bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: f.Statuses}}}})
	}
	if len(f.LedgerIDs) > 0 {
		or = append(or, bson.D{{Key: "stripeSubscriptionId", Value: bson.D{{Key: "$in", Value: f.LedgerIDs}}}})
	}
	if len(or) == 0 {
		return nil, ErrEmptyFilter
	}

	cur, err := s.subs.Find(ctx,
		bson.D{{Key: "$or", Value: or}},
		options.Find().SetSort(bson.D{{Key: "stripeSubscriptionId", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}

	var out []Subscription
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return out, nil
}

func (s *MongoStore) FindUserByCustomerID(ctx context.Context, customerID string) (*User, error) {
	var u User
	err := s.users.FindOne(ctx, bson.D{{Key: "stripeCustomerId", Value: customerID}}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrStore, err)
	}
	return &u, nil
}

func (s *MongoStore) UpdateSubscription(ctx context.Context, ledgerSubID string, patch SubscriptionPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	res, err := s.subs.UpdateOne(ctx, bson.D{{Key: "stripeSubscriptionId", Value: ledgerSubID}}, patch.Update())
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if res.MatchedCount == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *MongoStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.LedgerSubscriptionID == "" {
		return ErrInvalidSubscription
	}
	if sub.ID.IsZero() {
		sub.ID = bson.NewObjectID()
	}
	if _, err := s.subs.InsertOne(ctx, sub); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return errors.Join(ErrStore, err)
	}
	return nil
}

func (s *MongoStore) UpdateUserSubscriptionSummary(ctx context.Context, userID bson.ObjectID, summary UserSummary, guard SummaryGuard) error {
	filter := bson.D{{Key: "_id", Value: userID}}
	if guard == GuardSameSubscription {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "subscription", Value: nil}},
			bson.D{{Key: "subscription.subscriptionId", Value: bson.D{
				{Key: "$in", Value: bson.A{nil, "", summary.SubscriptionID}},
			}}},
		}})
	}

	res, err := s.users.UpdateOne(ctx, filter, SummaryUpdate(summary, s.now()))
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if guard == GuardNone {
		return ErrUserNotFound
	}

	n, err := s.users.CountDocuments(ctx, bson.D{{Key: "_id", Value: userID}})
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	s.logger.DebugContext(ctx, "user summary points at another subscription",
		logger.UserID(userID.Hex()), logger.SubscriptionID(summary.SubscriptionID))
	return ErrSummaryGuarded
}
