package main

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/billsync/pkg/config"
	"github.com/dmitrymomot/billsync/pkg/httpserver"
	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/mongo"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
	"github.com/dmitrymomot/billsync/pkg/redis"
	"github.com/dmitrymomot/billsync/pkg/trigger"
)

const (
	driverStripe = "stripe"
	driverMemory = "memory"
)

var errUnknownDriver = errors.New("unknown ledger driver")

type appConfig struct {
	settings

	// Loaded on demand, both carry required variables.
	Stripe ledger.StripeConfig
	Redis  redis.Config
}

type settings struct {
	Env           string `env:"APP_ENV" envDefault:"development"`
	LogLevel      string `env:"LOG_LEVEL"` // overrides the level implied by APP_ENV
	LedgerDriver  string `env:"LEDGER_DRIVER" envDefault:"stripe"`
	LedgerFixture string `env:"LEDGER_FIXTURE"` // YAML file for the memory driver
	EnsureIndexes bool   `env:"MONGODB_ENSURE_INDEXES" envDefault:"true"`

	Mongo     mongo.Config
	Reconcile reconcile.Config
	Trigger   trigger.Config
	HTTP      httpserver.Config
}

// loadConfig reads the environment (and .env or the given files). Stripe
// settings are read only for the stripe driver and Redis settings only when
// the distributed lock is on.
func loadConfig(envFiles ...string) (appConfig, error) {
	var opts []config.Option
	if len(envFiles) > 0 {
		opts = append(opts, config.WithEnvFiles(envFiles...))
	}

	var cfg appConfig
	if err := config.Load(&cfg.settings, opts...); err != nil {
		return cfg, err
	}

	switch cfg.LedgerDriver {
	case driverStripe:
		if err := config.Load(&cfg.Stripe, opts...); err != nil {
			return cfg, err
		}
	case driverMemory:
	default:
		return cfg, fmt.Errorf("%w: %q", errUnknownDriver, cfg.LedgerDriver)
	}

	if cfg.Trigger.DistributedLock {
		if err := config.Load(&cfg.Redis, opts...); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}
