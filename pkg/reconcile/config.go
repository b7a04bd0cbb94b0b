package reconcile

import (
	"fmt"

	"github.com/dmitrymomot/billsync/pkg/ledger"
)

// MetadataPolicy controls how ledger price metadata lands in the mirror.
type MetadataPolicy string

const (
	// PolicyEnrich stores the raw price metadata snapshot and also copies
	// every key into the metadata bag as metadata.<key>.
	PolicyEnrich MetadataPolicy = "enrich"
	// PolicySnapshot stores only the raw price metadata snapshot.
	PolicySnapshot MetadataPolicy = "snapshot"
)

// Config holds the pass settings.
type Config struct {
	Statuses          []string       `env:"RECONCILE_STATUSES" envDefault:"active" envSeparator:","`
	MetadataPolicy    MetadataPolicy `env:"RECONCILE_METADATA_POLICY" envDefault:"enrich"`
	SyncUserOnDrift   bool           `env:"RECONCILE_SYNC_USER_ON_DRIFT" envDefault:"true"`
	RepairConcurrency int            `env:"RECONCILE_REPAIR_CONCURRENCY" envDefault:"4"`
	DryRun            bool           `env:"RECONCILE_DRY_RUN" envDefault:"false"`
}

// Policy decides what the diff engine compares and how drift is patched.
type Policy struct {
	// Statuses is the reconciled status set. Mirror records in one of these
	// statuses without a ledger counterpart are orphans.
	Statuses []ledger.Status
	Metadata MetadataPolicy
}

// Policy validates the config and returns the diff policy it describes.
func (c Config) Policy() (Policy, error) {
	names := c.Statuses
	if len(names) == 0 {
		names = []string{string(ledger.StatusActive)}
	}
	statuses, err := ledger.ParseStatuses(names)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	meta := c.MetadataPolicy
	if meta == "" {
		meta = PolicyEnrich
	}
	if meta != PolicyEnrich && meta != PolicySnapshot {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownPolicy, c.MetadataPolicy)
	}
	return Policy{Statuses: statuses, Metadata: meta}, nil
}

func (p Policy) reconciled(status string) bool {
	for _, s := range p.Statuses {
		if string(s) == status {
			return true
		}
	}
	return false
}

func (p Policy) statusNames() []string {
	out := make([]string, len(p.Statuses))
	for i, s := range p.Statuses {
		out[i] = string(s)
	}
	return out
}
