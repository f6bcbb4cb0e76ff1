package kyc

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryProfiles is an in-memory ProfileStore for tests and local runs.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryProfiles(seed ...Profile) *MemoryProfiles {
	m := &MemoryProfiles{profiles: make(map[string]Profile, len(seed))}
	for _, p := range seed {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *MemoryProfiles) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryProfiles) Get(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryProfiles) ListByStatus(_ context.Context, status Status) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Profile
	for _, p := range m.profiles {
		if p.KYCStatus == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryProfiles) ApplyDecision(_ context.Context, userID string, status Status, notes string, at time.Time) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	p.KYCStatus = status
	p.Notes = notes
	p.UpdatedAt = at
	if status == StatusVerified {
		t := at
		p.VerifiedAt = &t
	}
	m.profiles[userID] = p
	return p, nil
}
