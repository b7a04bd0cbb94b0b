// Package trigger starts reconciliation passes and keeps them single-flight.
//
// Runner is the only way a pass is started. It drops a trigger that arrives
// while a pass is in progress (ErrAlreadyRunning), optionally takes a
// cross-process lock (ErrLockHeld when another instance holds it), bounds the
// pass with a timeout and turns a panic into ErrPassPanicked. Three surfaces
// drive it:
//
//   - Scheduler fires on a cron schedule such as "@every 5m", and once more
//     on demand through RunNow (used for a pass at startup).
//   - Handler serves POST /reconcile and answers with the pass report.
//   - The reconcile CLI command calls Runner.Trigger directly.
//
// Example:
//
//	runner := trigger.NewRunner(engine,
//	    trigger.WithTimeout(10*time.Minute),
//	    trigger.WithLocker(lock.NewRedis(client, "billsync:reconcile:lock")),
//	)
//	sched, err := trigger.NewScheduler(runner, "@every 5m")
//	if err != nil {
//	    return err
//	}
//	sched.Start(ctx)
//	defer sched.Stop(context.Background())
package trigger
