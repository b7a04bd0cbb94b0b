package ledger

import "context"

// Source is read access to the external billing ledger.
type Source interface {
	// FetchActive returns every ledger subscription whose status is one of
	// statuses, following pagination to the end. It fails with ErrIntegration
	// when the ledger cannot be listed; per-record failures are reported in
	// Snapshot.Unresolved instead.
	FetchActive(ctx context.Context, statuses ...Status) (*Snapshot, error)
}
