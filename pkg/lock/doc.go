// Package lock provides the non-blocking locks behind billsync's
// single-flight guarantee.
//
// Local guards a single process. Redis extends the guarantee across several
// billsync instances that share one mirror database: the first instance to
// SET the key wins, the others get ErrNotAcquired and drop their trigger.
//
//	locker := lock.NewRedis(client, "billsync:reconcile", lock.WithTTL(time.Minute))
//	lease, err := locker.TryLock(ctx)
//	if errors.Is(err, lock.ErrNotAcquired) {
//		return // someone else is reconciling
//	}
//	defer lease.Release(ctx)
package lock
