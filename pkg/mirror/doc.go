// Package mirror reads and writes the local Mongo copy of ledger
// subscriptions and the subscription summary denormalized onto users.
//
// The reconciler only ever sees the Store interface. MongoStore implements it
// over the "subscriptions" and "users" collections; MemoryStore implements it
// in memory and records every write, which makes idempotence easy to assert.
//
// Updates are expressed as a SubscriptionPatch so that a repair sets exactly
// the fields it means to and nothing else:
//
//	err := store.UpdateSubscription(ctx, "sub_123", mirror.CancelPatch(time.Now()))
//
// The store never deletes documents.
package mirror
