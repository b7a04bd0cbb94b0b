// Package reconcile detects and repairs drift between the billing ledger and
// the local subscription mirror.
//
// A pass has three steps:
//
//  1. Fetch the ledger snapshot for the reconciled statuses and the mirror
//     records that are either in one of those statuses or keyed by a ledger
//     id from the snapshot.
//  2. ComputePlan partitions them by ledger subscription id into orphans,
//     drifts, unchanged, missing and deferred records. It is a pure function
//     and yields the same plan for any input order.
//  3. Executor applies the plan: orphans are canceled, drifted records get
//     one patch overwriting every tracked field, missing records are created
//     for their owning user. Failures are logged and recorded; the pass
//     carries on.
//
// Engine.Run ties the steps together and returns a Report:
//
//	engine, err := reconcile.NewEngine(src, store, cfg,
//	    reconcile.WithLogger(log),
//	    reconcile.WithMetrics(reconcile.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//	report, err := engine.Run(ctx)
//
// Running a second pass with no ledger change issues no writes.
package reconcile
