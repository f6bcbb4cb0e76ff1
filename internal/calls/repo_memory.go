package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same guarantees as the Postgres one.
// Used by tests and single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Insert(_ context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; ok {
		return Record{}, ErrInvalidArgument
	}
	if r.Status.IsLive() {
		for _, existing := range m.records {
			if existing.RequesterID == r.RequesterID && existing.Status.IsLive() {
				return Record{}, ErrLiveCallExists
			}
		}
	}
	m.records[r.ID] = r
	return r, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) CompareAndSwap(_ context.Context, id string, expected Status, next Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if r.Status != expected {
		return Record{}, ErrConflict
	}
	next.ID = r.ID
	next.RequesterID = r.RequesterID
	next.CreatedAt = r.CreatedAt
	next.Version = r.Version + 1
	m.records[id] = next
	return next, nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...Status) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		for _, s := range statuses {
			if r.Status == s {
				out = append(out, r)
				break
			}
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, before time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Status.IsLive() && r.UpdatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func sortOldestFirst(rs []Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
}
