package trigger

import "time"

// Config holds scheduling and single-flight settings.
type Config struct {
	Schedule        string        `env:"RECONCILE_SCHEDULE" envDefault:"@every 5m"`
	Timeout         time.Duration `env:"RECONCILE_TIMEOUT" envDefault:"10m"`
	RunOnStart      bool          `env:"RECONCILE_RUN_ON_START" envDefault:"false"`
	DistributedLock bool          `env:"RECONCILE_DISTRIBUTED_LOCK" envDefault:"false"`
	LockKey         string        `env:"RECONCILE_LOCK_KEY" envDefault:"billsync:reconcile:lock"`
	LockTTL         time.Duration `env:"RECONCILE_LOCK_TTL" envDefault:"1m"`
}
