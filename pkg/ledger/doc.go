// Package ledger is billsync's read-only client for the external billing
// ledger, the source of truth for subscription state.
//
// Source is the contract the reconciliation engine depends on. Stripe
// implements it on top of github.com/stripe/stripe-go/v74 and Memory is an
// in-memory implementation for tests and local runs.
//
// # Fetch strategies
//
// FetchActive must return every subscription in the requested statuses, not a
// single page. Stripe requests pages of at most 100 records and advances the
// starting_after cursor with the last id of each page until has_more is false.
//
//   - StrategyDetail (default) lists ids, then retrieves each subscription
//     with items.data.price.product expanded, in parallel up to
//     FetchConcurrency requests.
//   - StrategyList reads records straight from the listing with
//     data.items.data.price expanded; products carry only their id.
//
// # Errors
//
// Listing failures return ErrIntegration and the caller must abort: a partial
// snapshot would make present subscriptions look deleted. A failed detail
// retrieval is logged with ErrRecordFetch and reported in
// Snapshot.Unresolved; a subscription that vanished between the two phases
// (404) is simply dropped.
//
//	src, err := ledger.NewStripe(cfg, ledger.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	snap, err := src.FetchActive(ctx, ledger.StatusActive)
package ledger
