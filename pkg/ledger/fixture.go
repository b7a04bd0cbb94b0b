package ledger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Subscriptions []fixtureSubscription `yaml:"subscriptions"`
}

type fixtureSubscription struct {
	ID                 string        `yaml:"id"`
	Customer           string        `yaml:"customer"`
	Status             Status        `yaml:"status"`
	CurrentPeriodStart time.Time     `yaml:"current_period_start"`
	CurrentPeriodEnd   time.Time     `yaml:"current_period_end"`
	CancelAtPeriodEnd  bool          `yaml:"cancel_at_period_end"`
	Unresolved         bool          `yaml:"unresolved"`
	Price              *fixturePrice `yaml:"price"`
}

type fixturePrice struct {
	ID            string            `yaml:"id"`
	UnitAmount    int64             `yaml:"unit_amount"`
	Currency      string            `yaml:"currency"`
	Interval      string            `yaml:"interval"`
	IntervalCount int64             `yaml:"interval_count"`
	LookupKey     string            `yaml:"lookup_key"`
	Nickname      string            `yaml:"nickname"`
	Metadata      map[string]string `yaml:"metadata"`
	Product       *Product          `yaml:"product"`
}

// LoadMemory builds a Memory ledger from a YAML fixture:
//
//	subscriptions:
//	  - id: sub_1
//	    customer: cus_1
//	    status: active
//	    current_period_start: 2026-01-01T00:00:00Z
//	    current_period_end: 2026-02-01T00:00:00Z
//	    price:
//	      id: price_pro
//	      unit_amount: 1900
//	      currency: usd
//	      interval: month
//	      metadata: {plan: pro}
//
// Subscriptions marked "unresolved: true" are reported as unresolved.
func LoadMemory(r io.Reader) (*Memory, error) {
	var f fixtureFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidFixture, err)
	}

	m := NewMemory()
	seen := make(map[string]struct{}, len(f.Subscriptions))
	for i, fs := range f.Subscriptions {
		if fs.ID == "" {
			return nil, fmt.Errorf("%w: subscription #%d has no id", ErrInvalidFixture, i+1)
		}
		if _, dup := seen[fs.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate subscription %q", ErrInvalidFixture, fs.ID)
		}
		if !fs.Status.Valid() {
			return nil, fmt.Errorf("%w: subscription %q: %w %q", ErrInvalidFixture, fs.ID, ErrUnknownStatus, fs.Status)
		}
		seen[fs.ID] = struct{}{}

		m.Put(fs.subscription())
		if fs.Unresolved {
			m.MarkUnresolved(fs.ID)
		}
	}
	return m, nil
}

// LoadMemoryFile is LoadMemory for a file path.
func LoadMemoryFile(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidFixture, err)
	}
	defer f.Close()
	return LoadMemory(f)
}

func (fs fixtureSubscription) subscription() Subscription {
	sub := Subscription{
		ID:                 fs.ID,
		CustomerID:         fs.Customer,
		Status:             fs.Status,
		CurrentPeriodStart: fs.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:   fs.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:  fs.CancelAtPeriodEnd,
	}
	if p := fs.Price; p != nil {
		price := &Price{
			ID:            p.ID,
			UnitAmount:    p.UnitAmount,
			Currency:      p.Currency,
			Interval:      p.Interval,
			IntervalCount: max(p.IntervalCount, 1),
			LookupKey:     p.LookupKey,
			Nickname:      p.Nickname,
			Metadata:      p.Metadata,
			Product:       p.Product,
		}
		if price.Metadata == nil {
			price.Metadata = map[string]string{}
		}
		sub.Items = []Item{{ID: "si_" + fs.ID, Price: price}}
	}
	return sub
}
