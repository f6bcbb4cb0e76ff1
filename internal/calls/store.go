package calls

import (
	"context"
	"time"
)

// Store is the persistence contract for call records.
//
// Implementations must enforce the single-live-record-per-requester invariant in Insert
// and make CompareAndSwap atomic: the write happens only if the stored status still equals expected.
type Store interface {
	Insert(ctx context.Context, r Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	CompareAndSwap(ctx context.Context, id string, expected Status, next Record) (Record, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]Record, error)
	// ListStale returns live records whose updated_at is before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]Record, error)
}
