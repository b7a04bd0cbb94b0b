package ledger

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Memory is an in-memory Source. It is safe for concurrent use and returns
// deep copies, so callers can mutate results freely.
type Memory struct {
	mu         sync.RWMutex
	subs       map[string]Subscription
	unresolved map[string]struct{}
	err        error
	calls      int
}

var _ Source = (*Memory)(nil)

// NewMemory returns a Memory ledger seeded with subs.
func NewMemory(subs ...Subscription) *Memory {
	m := &Memory{
		subs:       make(map[string]Subscription, len(subs)),
		unresolved: make(map[string]struct{}),
	}
	for _, s := range subs {
		m.subs[s.ID] = cloneSubscription(s)
	}
	return m
}

// Put inserts or replaces a subscription.
func (m *Memory) Put(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = cloneSubscription(sub)
}

// Delete removes a subscription.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	delete(m.unresolved, id)
}

// MarkUnresolved makes id appear in Snapshot.Unresolved instead of
// Snapshot.Subscriptions, as if its detail retrieval failed.
func (m *Memory) MarkUnresolved(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unresolved[id] = struct{}{}
}

// FailWith makes every subsequent FetchActive return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times FetchActive ran.
func (m *Memory) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *Memory) FetchActive(ctx context.Context, statuses ...Status) (*Snapshot, error) {
	if len(statuses) == 0 {
		return nil, ErrNoStatuses
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	snap := &Snapshot{}
	for _, sub := range m.subs {
		if !slices.Contains(statuses, sub.Status) {
			continue
		}
		if _, ok := m.unresolved[sub.ID]; ok {
			snap.Unresolved = append(snap.Unresolved, sub.ID)
			continue
		}
		snap.Subscriptions = append(snap.Subscriptions, cloneSubscription(sub))
	}
	slices.SortFunc(snap.Subscriptions, func(a, b Subscription) int { return strings.Compare(a.ID, b.ID) })
	slices.Sort(snap.Unresolved)
	return snap, nil
}

func cloneSubscription(s Subscription) Subscription {
	out := s
	out.Items = make([]Item, len(s.Items))
	for i, it := range s.Items {
		out.Items[i] = Item{ID: it.ID}
		if it.Price != nil {
			p := *it.Price
			p.Metadata = maps.Clone(it.Price.Metadata)
			if it.Price.Product != nil {
				prod := *it.Price.Product
				prod.Metadata = maps.Clone(it.Price.Product.Metadata)
				p.Product = &prod
			}
			out.Items[i].Price = &p
		}
	}
	return out
}
