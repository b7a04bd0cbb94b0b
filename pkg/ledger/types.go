package ledger

import (
	"fmt"
	"time"
)

// Status is a ledger subscription status.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
)

// Valid reports whether s is one of the ledger's known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusUnpaid, StatusIncomplete, StatusIncompleteExpired:
		return true
	}
	return false
}

// ParseStatuses converts raw names into statuses, rejecting unknown ones.
func ParseStatuses(names []string) ([]Status, error) {
	out := make([]Status, 0, len(names))
	seen := make(map[Status]struct{}, len(names))
	for _, n := range names {
		s := Status(n)
		if !s.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, n)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// Subscription is the ledger's view of a subscription. Period bounds are
// converted from epoch seconds to UTC time.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Items              []Item
}

// Price returns the price of the first line item, or nil when the
// subscription carries no expanded price.
func (s Subscription) Price() *Price {
	if len(s.Items) == 0 {
		return nil
	}
	return s.Items[0].Price
}

// Item is a subscription line item.
type Item struct {
	ID    string
	Price *Price
}

// Price is an expanded ledger price.
type Price struct {
	ID            string
	UnitAmount    int64
	Currency      string
	Interval      string
	IntervalCount int64
	LookupKey     string
	Nickname      string
	Metadata      map[string]string
	Product       *Product
}

// Product is the product a price belongs to. Name and Metadata are empty
// when the product was not expanded.
type Product struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// Snapshot is the result of one full ledger fetch.
type Snapshot struct {
	// Subscriptions holds every subscription retrieved in full, sorted by ID.
	Subscriptions []Subscription
	// Unresolved holds ids that were listed but could not be retrieved. They
	// exist in the ledger; their state is unknown for this pass.
	Unresolved []string
}

// IDs returns the ids of every subscription in the snapshot, including
// unresolved ones.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Subscriptions)+len(s.Unresolved))
	for _, sub := range s.Subscriptions {
		ids = append(ids, sub.ID)
	}
	return append(ids, s.Unresolved...)
}
