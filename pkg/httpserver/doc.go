// Package httpserver runs the ops HTTP surface of billsync: liveness and
// readiness probes, Prometheus metrics and the manual reconcile trigger.
//
// Server binds its listener in Run, serves until the context ends or the
// process gets SIGINT/SIGTERM, then drains requests within the shutdown
// timeout and runs the stop hooks. Router mounts the endpoints on a chi
// router:
//
//	srv := httpserver.NewFromConfig(cfg.HTTP,
//	    httpserver.WithLogger(log),
//	    httpserver.WithStopHook(scheduler.Stop),
//	)
//	router := httpserver.Router(httpserver.RouterOptions{
//	    Checks:    []httpserver.Check{{Name: "mongo", Probe: mongo.Healthcheck(client)}},
//	    Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
//	    Reconcile: trigger.Handler(runner, log),
//	    Logger:    log,
//	})
//	err := srv.Run(ctx, router)
//
// Bind failures are joined with ErrStart and drain or hook failures with
// ErrShutdown.
package httpserver
