//go:build integration

package mirror_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/billsync/pkg/mirror"
	"github.com/dmitrymomot/billsync/pkg/mongo"
)

func setupMongoStore(t *testing.T) (*mirror.MongoStore, *mongodriver.Database) {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err, "failed to start mongo container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := mongo.NewWithDatabase(ctx, mongo.Config{
		ConnectionURL:  uri,
		Database:       "billsync_test",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    5,
		RetryAttempts:  3,
		RetryInterval:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })

	store := mirror.NewMongoStore(db, mirror.WithClock(func() time.Time {
		return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, store.EnsureIndexes(ctx))
	return store, db
}

func TestMongoStore(t *testing.T) {
	store, _ := setupMongoStore(t)
	ctx := context.Background()
	uid := bson.NewObjectID()
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.FindUserByCustomerID(ctx, "cus_1")
	assert.ErrorIs(t, err, mirror.ErrUserNotFound)
	assert.ErrorIs(t, store.UpdateUserSubscriptionSummary(ctx, uid, mirror.UserSummary{}, mirror.GuardNone), mirror.ErrUserNotFound)

	t.Run("insert and find", func(t *testing.T) {
		for _, s := range []mirror.Subscription{
			{UserID: uid, LedgerSubscriptionID: "sub_1", Status: "active", CurrentPeriodEnd: end, Metadata: map[string]any{"priceAmount": int64(900)}},
			{UserID: uid, LedgerSubscriptionID: "sub_2", Status: "past_due"},
			{UserID: uid, LedgerSubscriptionID: "sub_3", Status: "canceled"},
		} {
			require.NoError(t, store.InsertSubscription(ctx, &s))
		}

		err := store.InsertSubscription(ctx, &mirror.Subscription{LedgerSubscriptionID: "sub_1", Status: "active"})
		assert.ErrorIs(t, err, mirror.ErrSubscriptionExists)

		got, err := store.ActiveSubscriptions(ctx, mirror.ActiveFilter{
			Statuses:  []string{"active"},
			LedgerIDs: []string{"sub_2"},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "sub_1", got[0].LedgerSubscriptionID)
		assert.Equal(t, end, got[0].CurrentPeriodEnd.UTC())
		assert.EqualValues(t, 900, got[0].Metadata["priceAmount"])
		assert.Equal(t, "sub_2", got[1].LedgerSubscriptionID)
	})

	t.Run("update sets only patched fields", func(t *testing.T) {
		require.NoError(t, store.UpdateSubscription(ctx, "sub_1", mirror.SubscriptionPatch{
			Metadata:  map[string]any{"tier": "pro"},
			UpdatedAt: time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC),
		}))
		require.NoError(t, store.UpdateSubscription(ctx, "sub_2", mirror.CancelPatch(time.Now())))

		got, err := store.ActiveSubscriptions(ctx, mirror.ActiveFilter{LedgerIDs: []string{"sub_1", "sub_2"}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "pro", got[0].Metadata["tier"])
		assert.EqualValues(t, 900, got[0].Metadata["priceAmount"])
		assert.Equal(t, "active", got[0].Status)
		assert.Equal(t, "canceled", got[1].Status)

		err = store.UpdateSubscription(ctx, "sub_missing", mirror.CancelPatch(time.Now()))
		assert.ErrorIs(t, err, mirror.ErrSubscriptionNotFound)
	})
}

func TestMongoStore_UserSummaryGuard(t *testing.T) {
	store, db := setupMongoStore(t)
	ctx := context.Background()

	uid := bson.NewObjectID()
	_, err := db.Collection(mirror.UsersCollection).InsertOne(ctx, mirror.User{
		ID:               uid,
		Email:            "a@example.com",
		StripeCustomerID: "cus_1",
	})
	require.NoError(t, err)

	u, err := store.FindUserByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Nil(t, u.Subscription)

	first := mirror.UserSummary{Status: "active", PlanID: "price_1", SubscriptionID: "sub_1"}
	require.NoError(t, store.UpdateUserSubscriptionSummary(ctx, uid, first, mirror.GuardSameSubscription))

	second := mirror.UserSummary{Status: "active", PlanID: "price_2", SubscriptionID: "sub_2"}
	err = store.UpdateUserSubscriptionSummary(ctx, uid, second, mirror.GuardSameSubscription)
	assert.ErrorIs(t, err, mirror.ErrSummaryGuarded)

	require.NoError(t, store.UpdateUserSubscriptionSummary(ctx, uid, second, mirror.GuardNone))
	u, err = store.FindUserByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, u.Subscription)
	assert.Equal(t, "sub_2", u.Subscription.SubscriptionID)
	assert.Equal(t, "a@example.com", u.Email)
}
