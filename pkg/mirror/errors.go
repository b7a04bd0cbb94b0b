package mirror

import "errors"

var (
	ErrUserNotFound         = errors.New("mirror: user not found")
	ErrSubscriptionNotFound = errors.New("mirror: subscription not found")
	ErrSubscriptionExists   = errors.New("mirror: subscription already exists")
	ErrSummaryGuarded       = errors.New("mirror: user summary references another subscription")
	ErrEmptyFilter          = errors.New("mirror: filter selects nothing")
	ErrInvalidSubscription  = errors.New("mirror: invalid subscription")
	ErrStore                = errors.New("mirror: store operation failed")
)
