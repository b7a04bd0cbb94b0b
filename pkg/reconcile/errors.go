package reconcile

import "errors"

var (
	ErrOwnerResolution      = errors.New("reconcile: cannot resolve owning user")
	ErrWrite                = errors.New("reconcile: mirror write failed")
	ErrMirrorFetch          = errors.New("reconcile: mirror fetch failed")
	ErrUnknownPolicy        = errors.New("reconcile: unknown metadata policy")
	ErrInvalidConfig        = errors.New("reconcile: invalid configuration")
	ErrUnknownFormat        = errors.New("reconcile: unknown report format")
	ErrIncompleteRepair     = errors.New("reconcile: some repairs failed")
	ErrMissingLedgerPrice   = errors.New("reconcile: ledger subscription has no price")
	ErrSubscriptionVanished = errors.New("reconcile: mirror subscription disappeared before repair")
)
