package reconcile

import (
	"slices"
	"strings"

	"github.com/dmitrymomot/billsync/pkg/ledger"
	"github.com/dmitrymomot/billsync/pkg/mirror"
)

// Drift is a matched pair whose tracked fields differ.
type Drift struct {
	Ledger ledger.Subscription
	Mirror mirror.Subscription
	// Changed lists the tracked fields that differ.
	Changed []string
	// Patch overwrites every tracked field with the ledger's values.
	Patch mirror.SubscriptionPatch
}

// Plan is the set of repairs for one pass. Every bucket is sorted by
// ledger subscription id.
type Plan struct {
	// Orphans are mirror records in a reconciled status that the ledger no
	// longer reports.
	Orphans []mirror.Subscription
	Drifts  []Drift
	// Unchanged holds ledger ids whose mirror record already matches.
	Unchanged []string
	// Missing are ledger subscriptions with no mirror record.
	Missing []ledger.Subscription
	// Deferred holds ledger ids whose ledger state could not be retrieved
	// this pass. Their mirror records are left alone.
	Deferred []string
	// Duplicates are extra mirror records sharing a ledger id with another
	// record. They are reported, never repaired.
	Duplicates []mirror.Subscription
}

// Writes returns how many subscription writes the plan implies.
func (p Plan) Writes() int {
	return len(p.Orphans) + len(p.Drifts) + len(p.Missing)
}

// ComputePlan partitions the ledger snapshot and the mirror records by
// ledger subscription id. It is pure: the same inputs in any order yield
// the same plan.
func ComputePlan(snap *ledger.Snapshot, records []mirror.Subscription, p Policy) Plan {
	var plan Plan

	ledgerByID := make(map[string]ledger.Subscription, len(snap.Subscriptions))
	for _, s := range snap.Subscriptions {
		ledgerByID[s.ID] = s
	}
	unresolved := make(map[string]struct{}, len(snap.Unresolved))
	for _, id := range snap.Unresolved {
		unresolved[id] = struct{}{}
	}

	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b mirror.Subscription) int {
		if c := strings.Compare(a.LedgerSubscriptionID, b.LedgerSubscriptionID); c != 0 {
			return c
		}
		return strings.Compare(a.ID.Hex(), b.ID.Hex())
	})

	seen := make(map[string]struct{}, len(sorted))
	for _, m := range sorted {
		id := m.LedgerSubscriptionID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			plan.Duplicates = append(plan.Duplicates, m)
			continue
		}
		seen[id] = struct{}{}

		if _, ok := unresolved[id]; ok {
			plan.Deferred = append(plan.Deferred, id)
			continue
		}

		l, ok := ledgerByID[id]
		if !ok {
			if p.reconciled(m.Status) && m.Status != string(ledger.StatusCanceled) {
				plan.Orphans = append(plan.Orphans, m)
			}
			continue
		}

		t := targetOf(l, p)
		if changed := t.changes(m); len(changed) > 0 {
			plan.Drifts = append(plan.Drifts, Drift{Ledger: l, Mirror: m, Changed: changed, Patch: t.patch(m)})
			continue
		}
		plan.Unchanged = append(plan.Unchanged, id)
	}

	for _, l := range snap.Subscriptions {
		if _, ok := seen[l.ID]; !ok {
			seen[l.ID] = struct{}{}
			plan.Missing = append(plan.Missing, l)
		}
	}
	slices.SortFunc(plan.Missing, func(a, b ledger.Subscription) int { return strings.Compare(a.ID, b.ID) })

	return plan
}
