package lock

import "errors"

var (
	// ErrNotAcquired is returned when the lock is held by someone else.
	ErrNotAcquired = errors.New("lock is held by another owner")
	// ErrBackend wraps failures talking to the lock backend.
	ErrBackend = errors.New("lock backend error")
	// ErrLeaseLost is returned by Release when the lease expired and was taken over.
	ErrLeaseLost = errors.New("lock lease lost")
)
