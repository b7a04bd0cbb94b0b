package trigger

import "errors"

var (
	ErrAlreadyRunning  = errors.New("trigger: reconciliation pass already running")
	ErrLockHeld        = errors.New("trigger: reconciliation lock held by another instance")
	ErrPassPanicked    = errors.New("trigger: reconciliation pass panicked")
	ErrInvalidSchedule = errors.New("trigger: invalid schedule")
)
