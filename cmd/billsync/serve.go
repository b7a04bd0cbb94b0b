package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/trigger"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile on a schedule and serve the ops endpoints",
		Long: `Run reconciliation passes on RECONCILE_SCHEDULE and serve /healthz, /readyz,
/metrics and POST /reconcile on HTTP_ADDR until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.envFiles...)
			if err != nil {
				return err
			}

			log := newLogger(cfg.settings, cmd.OutOrStdout())
			logger.SetAsDefault(log)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.ErrorContext(ctx, "startup failed", logger.Error(err))
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.WarnContext(ctx, "failed to close connections", logger.Error(err))
				}
			}()

			if err := serve(ctx, a); err != nil {
				log.ErrorContext(ctx, "server stopped with error", logger.Error(err))
				return err
			}
			return nil
		},
	}
}

// serve starts the scheduler together with the ops server and blocks until
// shutdown. The scheduler stops, waiting for a running pass, after the
// server has drained.
func serve(ctx context.Context, a *app) error {
	schedLog := a.log.With(logger.Component("scheduler"))
	sched, err := trigger.NewScheduler(a.runner, a.cfg.Trigger.Schedule, trigger.WithSchedulerLogger(schedLog))
	if err != nil {
		return err
	}

	srv := httpserver.NewFromConfig(a.cfg.HTTP,
		httpserver.WithLogger(a.log.With(logger.Component("http"))),
		httpserver.WithStartHook(func(ctx context.Context) {
			sched.Start(ctx)
			if a.cfg.Trigger.RunOnStart {
				sched.RunNow(trigger.SourceStartup)
			}
		}),
		httpserver.WithStopHook(sched.Stop),
	)

	router := httpserver.Router(httpserver.RouterOptions{
		Checks:       a.checks,
		CheckTimeout: a.cfg.HTTP.CheckTimeout,
		Metrics:      promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		Reconcile:    trigger.Handler(a.runner, a.log.With(logger.Component("http"))),
		Logger:       a.log,
	})

	a.log.InfoContext(ctx, "billsync started",
		slog.String("version", version),
		slog.String("schedule", a.cfg.Trigger.Schedule),
		slog.Bool("dry_run", a.cfg.Reconcile.DryRun),
		slog.Bool("distributed_lock", a.cfg.Trigger.DistributedLock),
	)
	return srv.Run(ctx, router)
}
