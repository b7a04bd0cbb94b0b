package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/lock"
	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
	"github.com/dmitrymomot/billsync/pkg/mongo"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
	"github.com/dmitrymomot/billsync/pkg/redis"
	"github.com/dmitrymomot/billsync/pkg/requestid"
	"github.com/dmitrymomot/billsync/pkg/trigger"
)

const serviceName = "billsync"

// app holds the wired components shared by the reconcile and serve commands.
type app struct {
	cfg      appConfig
	log      *slog.Logger
	registry *prometheus.Registry
	runner   *trigger.Runner
	checks   []httpserver.Check
	closers  []func(context.Context) error
}

func newLogger(cfg settings, w io.Writer) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithRunIDFromContext(),
		logger.WithContextExtractors(requestid.LogExtractor()),
		logger.WithOutput(w),
	}
	if cfg.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(cfg.LogLevel))
	}
	return logger.New(opts...)
}

// newApp connects to the mirror database, the ledger and, when enabled, the
// lock backend. On error everything opened so far is closed.
func newApp(ctx context.Context, cfg appConfig, log *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, log: log, registry: newRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	src, err := newLedger(cfg, log)
	if err != nil {
		return a, err
	}

	client, err := mongo.New(ctx, cfg.Mongo)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, client.Disconnect)
	a.checks = append(a.checks, httpserver.Check{Name: "mongo", Probe: mongo.Healthcheck(client)})

	store := mirror.NewMongoStore(client.Database(cfg.Mongo.Database),
		mirror.WithLogger(log.With(logger.Component("mirror"))))
	if cfg.EnsureIndexes {
		if err := store.EnsureIndexes(ctx); err != nil {
			return a, err
		}
	}

	var locker lock.Locker
	if cfg.Trigger.DistributedLock {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(rdb)})
		locker = lock.NewRedis(rdb, cfg.Trigger.LockKey,
			lock.WithTTL(cfg.Trigger.LockTTL),
			lock.WithLogger(log.With(logger.Component("lock"))))
	}

	a.runner, err = newRunner(src, store, cfg, log, a.registry, locker)
	return a, err
}

// newRunner assembles the engine and its single-flight runner.
func newRunner(src ledger.Source, store mirror.Store, cfg appConfig, log *slog.Logger, reg prometheus.Registerer, locker lock.Locker) (*trigger.Runner, error) {
	engine, err := reconcile.NewEngine(src, store, cfg.Reconcile,
		reconcile.WithLogger(log.With(logger.Component("reconcile"))),
		reconcile.WithMetrics(reconcile.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}

	opts := []trigger.RunnerOption{
		trigger.WithTimeout(cfg.Trigger.Timeout),
		trigger.WithMetrics(trigger.NewMetrics(reg)),
		trigger.WithLogger(log.With(logger.Component("trigger"))),
	}
	if locker != nil {
		opts = append(opts, trigger.WithLocker(locker))
	}
	return trigger.NewRunner(engine, opts...), nil
}

func newLedger(cfg appConfig, log *slog.Logger) (ledger.Source, error) {
	log = log.With(logger.Component("ledger"))
	switch cfg.LedgerDriver {
	case driverMemory:
		log.Warn("using in-memory ledger, mirror records absent from it will be treated as orphans",
			slog.String("fixture", cfg.LedgerFixture))
		if cfg.LedgerFixture == "" {
			return ledger.NewMemory(), nil
		}
		return ledger.LoadMemoryFile(cfg.LedgerFixture)
	default:
		return ledger.NewStripe(cfg.Stripe, ledger.WithLogger(log))
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Close releases connections in reverse order of opening.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
