package reporting

import (
	"context"
	"sync"
	"time"

	"videokyc-platform/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(_ context.Context, from, to time.Time, responderID string) ([]calls.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Record, 0)
	for _, c := range r.Calls {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		if responderID != "" && c.ResponderID != responderID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
