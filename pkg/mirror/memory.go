package mirror

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Op names a MemoryStore operation.
type Op string

const (
	OpFindSubscriptions  Op = "find_subscriptions"
	OpFindUser           Op = "find_user"
	OpUpdateSubscription Op = "update_subscription"
	OpInsertSubscription Op = "insert_subscription"
	OpUpdateUserSummary  Op = "update_user_summary"
)

// Write is one write recorded by MemoryStore.
type Write struct {
	Op     Op
	Key    string
	Fields []string
}

// MemoryStore is an in-memory Store for tests and local runs. It records
// every successful write and can be told to fail specific operations.
type MemoryStore struct {
	mu     sync.Mutex
	subs   map[string]Subscription
	users  map[bson.ObjectID]User
	writes []Write
	fail   map[string]error
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:  make(map[string]Subscription),
		users: make(map[bson.ObjectID]User),
		fail:  make(map[string]error),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for summary update timestamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutSubscription seeds or replaces a subscription without recording a write.
func (m *MemoryStore) PutSubscription(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID.IsZero() {
		sub.ID = bson.NewObjectID()
	}
	m.subs[sub.LedgerSubscriptionID] = cloneSubscription(sub)
}

// PutUser seeds or replaces a user without recording a write.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = cloneUser(u)
}

// Subscription returns a copy of the subscription keyed by ledgerSubID.
func (m *MemoryStore) Subscription(ledgerSubID string) (Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[ledgerSubID]
	return cloneSubscription(s), ok
}

// User returns a copy of the user with id.
func (m *MemoryStore) User(id bson.ObjectID) (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return cloneUser(u), ok
}

// Writes returns the recorded writes in the order they happened.
func (m *MemoryStore) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.writes)
}

// ResetWrites clears the recorded writes.
func (m *MemoryStore) ResetWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// FailOn makes op fail with err for key. Key is a ledger subscription id for
// subscription writes, a hex user id for summary writes and a customer id for
// user lookups. An empty key matches every call. Pass a nil err to clear.
func (m *MemoryStore) FailOn(op Op, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(op) + "|" + key
	if err == nil {
		delete(m.fail, k)
		return
	}
	m.fail[k] = err
}

func (m *MemoryStore) failure(op Op, key string) error {
	if err, ok := m.fail[string(op)+"|"+key]; ok {
		return err
	}
	return m.fail[string(op)+"|"]
}

func (m *MemoryStore) ActiveSubscriptions(ctx context.Context, f ActiveFilter) ([]Subscription, error) {
	if len(f.Statuses) == 0 && len(f.LedgerIDs) == 0 {
		return nil, ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpFindSubscriptions, ""); err != nil {
		return nil, err
	}

	var out []Subscription
	for _, s := range m.subs {
		if slices.Contains(f.Statuses, s.Status) || slices.Contains(f.LedgerIDs, s.LedgerSubscriptionID) {
			out = append(out, cloneSubscription(s))
		}
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		return strings.Compare(a.LedgerSubscriptionID, b.LedgerSubscriptionID)
	})
	return out, nil
}

func (m *MemoryStore) FindUserByCustomerID(ctx context.Context, customerID string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpFindUser, customerID); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.StripeCustomerID == customerID {
			found := cloneUser(u)
			return &found, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, ledgerSubID string, patch SubscriptionPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpUpdateSubscription, ledgerSubID); err != nil {
		return err
	}
	s, ok := m.subs[ledgerSubID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	patch.Apply(&s)
	m.subs[ledgerSubID] = s
	m.writes = append(m.writes, Write{Op: OpUpdateSubscription, Key: ledgerSubID, Fields: patch.Fields()})
	return nil
}

func (m *MemoryStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.LedgerSubscriptionID == "" {
		return ErrInvalidSubscription
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpInsertSubscription, sub.LedgerSubscriptionID); err != nil {
		return err
	}
	if _, exists := m.subs[sub.LedgerSubscriptionID]; exists {
		return ErrSubscriptionExists
	}
	if sub.ID.IsZero() {
		sub.ID = bson.NewObjectID()
	}
	m.subs[sub.LedgerSubscriptionID] = cloneSubscription(*sub)
	m.writes = append(m.writes, Write{Op: OpInsertSubscription, Key: sub.LedgerSubscriptionID})
	return nil
}

func (m *MemoryStore) UpdateUserSubscriptionSummary(ctx context.Context, userID bson.ObjectID, summary UserSummary, guard SummaryGuard) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpUpdateUserSummary, userID.Hex()); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if !guard.Allows(&u, summary) {
		return ErrSummaryGuarded
	}
	s := summary
	u.Subscription = &s
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[MetaUpdatedAt] = m.now()
	m.users[userID] = u
	m.writes = append(m.writes, Write{Op: OpUpdateUserSummary, Key: userID.Hex()})
	return nil
}

func cloneSubscription(s Subscription) Subscription {
	s.PriceMetadata = maps.Clone(s.PriceMetadata)
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

func cloneUser(u User) User {
	if u.Subscription != nil {
		s := *u.Subscription
		u.Subscription = &s
	}
	u.Metadata = maps.Clone(u.Metadata)
	return u
}
