package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Change is one write to a call record as seen by subscribers.
type Change struct {
	Record Record `json:"record"`
	// Previous is empty for inserts.
	Previous Status    `json:"previous,omitempty"`
	At       time.Time `json:"at"`
}

func (c Change) IsInsert() bool { return c.Previous == "" }

// Filter selects which changes a subscriber sees. Empty fields match anything.
type Filter struct {
	CallID      string
	RequesterID string
	Status      Status
}

func (f Filter) Match(r Record) bool {
	if f.CallID != "" && r.ID != f.CallID {
		return false
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.Status != "" && r.Status.Canonical() != f.Status.Canonical() {
		return false
	}
	return true
}

// Feed fans record changes out to every subscriber, across processes for shared implementations.
// Subscribe must not return before the subscription is live.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context) (<-chan Change, func(), error)
}

const feedBuffer = 256

// MemoryFeed is an in-process Feed.
type MemoryFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Change
	log    *slog.Logger
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[int]chan Change), log: slog.Default()}
}

func (f *MemoryFeed) Publish(_ context.Context, c Change) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, ch := range f.subs {
		select {
		case ch <- c:
		default:
			f.log.Warn("call feed subscriber full, dropping change", "subscriber", id, "call_id", c.Record.ID)
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context) (<-chan Change, func(), error) {
	ch := make(chan Change, feedBuffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}
