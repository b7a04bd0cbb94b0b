package ledger

import "errors"

var (
	// ErrIntegration is returned when the ledger is unreachable, rejects the
	// credentials or returns a malformed page. It aborts the pass.
	ErrIntegration = errors.New("ledger integration error")
	// ErrRecordFetch marks a single failed subscription retrieval. The record
	// is skipped and the pass continues.
	ErrRecordFetch = errors.New("ledger record fetch failed")

	ErrMissingAPIKey   = errors.New("ledger API key is required")
	ErrUnknownStatus   = errors.New("unknown ledger subscription status")
	ErrUnknownStrategy = errors.New("unknown ledger fetch strategy")
	ErrNoStatuses      = errors.New("at least one ledger status is required")
	ErrInvalidPageSize = errors.New("ledger page size must be between 1 and 100")
	ErrInvalidFixture  = errors.New("invalid ledger fixture")
)
