package lock

import (
	"context"
	"sync"
)

// Locker hands out an exclusive lease or fails immediately. It never blocks
// waiting for a holder to finish.
type Locker interface {
	TryLock(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

// NewLocal returns an unlocked in-process Locker.
func NewLocal() *Local {
	return &Local{}
}

// TryLock returns ErrNotAcquired when another lease is outstanding.
func (l *Local) TryLock(_ context.Context) (Lease, error) {
	if !l.mu.TryLock() {
		return nil, ErrNotAcquired
	}
	return &localLease{mu: &l.mu}, nil
}

type localLease struct {
	once sync.Once
	mu   *sync.Mutex
}

func (l *localLease) Release(_ context.Context) error {
	l.once.Do(l.mu.Unlock)
	return nil
}
