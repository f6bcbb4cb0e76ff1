package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryStore, *MemoryFeed) {
	store := NewMemoryStore()
	feed := NewMemoryFeed()
	svc := NewService(store, feed)
	base := time.Unix(1700000000, 0).UTC()
	var mu sync.Mutex
	tick := 0
	svc.clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	n := 0
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("call-%d", n)
	}
	return svc, store, feed
}

func TestCreateCall_WaitingResponder(t *testing.T) {
	svc, _, _ := newTestService()

	r, err := svc.CreateCall(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == "" || r.Status != StatusWaitingResponder || r.CallType != CallTypeKYC {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.ResponderID != "" || r.VerificationResult != "" || r.ConnectedAt != nil {
		t.Fatalf("new record must not carry responder, result or connect time: %+v", r)
	}
}

func TestCreateCall_SingleLiveRecordPerRequester(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateCall(ctx, "user-1", CallTypeKYC); !errors.Is(err, ErrLiveCallExists) {
		t.Fatalf("expected ErrLiveCallExists, got %v", err)
	}
	if _, err := svc.CreateCall(ctx, "user-2", CallTypeKYC); err != nil {
		t.Fatalf("other requester should be allowed: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, first.ID, StatusRejected, Fields{}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := svc.CreateCall(ctx, "user-1", CallTypeKYC); err != nil {
		t.Fatalf("expected new call after terminal status, got %v", err)
	}
}

func TestCreateCall_RequiresRequester(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.CreateCall(context.Background(), "  ", CallTypeKYC); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestUpdateStatus_HappyPath(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	r, err := svc.UpdateStatus(ctx, r.ID, StatusResponderConnected, Fields{ResponderID: "admin-1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if r.ConnectedAt == nil || !r.ConnectedAt.Equal(r.UpdatedAt) {
		t.Fatalf("claim must stamp connected_at, got %+v", r)
	}
	connectedAt := *r.ConnectedAt
	r, err = svc.UpdateStatus(ctx, r.ID, StatusInCall, Fields{})
	if err != nil {
		t.Fatalf("in_call: %v", err)
	}
	if !r.ConnectedAt.Equal(connectedAt) {
		t.Fatalf("connected_at must not move, got %v", r.ConnectedAt)
	}
	r, err = svc.UpdateStatus(ctx, r.ID, StatusCompleted, Fields{VerificationResult: ResultApproved, Notes: NotesPtr("ID matches")})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.Status != StatusCompleted || r.VerificationResult != ResultApproved || r.Notes != "ID matches" || r.ResponderID != "admin-1" {
		t.Fatalf("unexpected final record %+v", r)
	}
	if r.Version != 4 {
		t.Fatalf("expected version 4, got %d", r.Version)
	}
}

func TestUpdateStatus_RejectsInvalidTransitions(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)

	cases := []struct {
		name string
		to   Status
		f    Fields
		want error
	}{
		{"complete from waiting", StatusCompleted, Fields{VerificationResult: ResultApproved}, ErrInvalidTransition},
		{"connected without responder", StatusResponderConnected, Fields{}, ErrInvalidArgument},
		{"alias is never written", StatusWaitingAdmin, Fields{}, ErrInvalidArgument},
		{"unknown status", Status("ringing"), Fields{}, ErrInvalidArgument},
		{"bad result", StatusRejected, Fields{VerificationResult: "maybe"}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpdateStatus(ctx, r.ID, tc.to, tc.f); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateStatus_CompletedRequiresResult(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	r, _ = svc.UpdateStatus(ctx, r.ID, StatusInCall, Fields{ResponderID: "admin-1"})

	if _, err := svc.UpdateStatus(ctx, r.ID, StatusCompleted, Fields{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestUpdateStatus_ConcurrentWritersConflict(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)

	// Simulate a write landing between our read and our swap.
	current, _ := store.Get(ctx, r.ID)
	if _, err := svc.UpdateStatus(ctx, r.ID, StatusRejected, Fields{}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	next := current.apply(StatusInCall, Fields{ResponderID: "admin-1"}, time.Now())
	if _, err := store.CompareAndSwap(ctx, r.ID, current.Status, next); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, _ := svc.Get(ctx, r.ID)
	if got.Status != StatusRejected {
		t.Fatalf("first writer must win, got %s", got.Status)
	}
}

func TestUpdateStatus_OtherResponderConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	r, _ = svc.UpdateStatus(ctx, r.ID, StatusResponderConnected, Fields{ResponderID: "admin-1"})

	if _, err := svc.UpdateStatus(ctx, r.ID, StatusInCall, Fields{ResponderID: "admin-2"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSubscribe_FiltersByRequesterAndCall(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	mine := make(chan Change, 8)
	cancel, err := svc.Subscribe(ctx, Filter{RequesterID: "user-1"}, func(c Change) { mine <- c })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := svc.CreateCall(ctx, "user-2", CallTypeKYC); err != nil {
		t.Fatalf("create: %v", err)
	}
	r, err := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, r.ID, StatusRejected, Fields{}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	first := waitChange(t, mine)
	if !first.IsInsert() || first.Record.RequesterID != "user-1" {
		t.Fatalf("expected insert for user-1, got %+v", first)
	}
	second := waitChange(t, mine)
	if second.Previous != StatusWaitingResponder || second.Record.Status != StatusRejected {
		t.Fatalf("unexpected change %+v", second)
	}
	select {
	case c := <-mine:
		t.Fatalf("unexpected extra change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_CancelIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	cancel, err := svc.Subscribe(context.Background(), Filter{}, func(Change) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()
}

func TestListWaiting_IncludesAlias(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	earlier := time.Unix(1700000000, 0).UTC().Add(-time.Hour)
	legacy := Record{ID: "legacy", RequesterID: "user-9", Status: StatusWaitingAdmin, CallType: CallTypeKYC, Version: 1, CreatedAt: earlier, UpdatedAt: earlier}
	if _, err := store.Insert(ctx, legacy); err != nil {
		t.Fatalf("insert legacy: %v", err)
	}
	if _, err := svc.CreateCall(ctx, "user-1", CallTypeKYC); err != nil {
		t.Fatalf("create: %v", err)
	}

	waiting, err := svc.ListWaiting(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(waiting) != 2 || waiting[0].ID != "legacy" {
		t.Fatalf("expected legacy record first, got %+v", waiting)
	}

	// The alias is live and transitions like waiting_responder.
	if _, err := svc.CreateCall(ctx, "user-9", CallTypeKYC); !errors.Is(err, ErrLiveCallExists) {
		t.Fatalf("expected alias to count as live, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "legacy", StatusResponderConnected, Fields{ResponderID: "admin-1"}); err != nil {
		t.Fatalf("alias transition: %v", err)
	}
}

func TestExpireStale(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	stale := Record{ID: "stale", RequesterID: "user-1", Status: StatusWaitingResponder, CallType: CallTypeKYC, Version: 1, CreatedAt: old, UpdatedAt: old}
	if _, err := store.Insert(ctx, stale); err != nil {
		t.Fatalf("insert: %v", err)
	}
	svc.clock = time.Now
	fresh, err := svc.CreateCall(ctx, "user-2", CallTypeKYC)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := svc.ExpireStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := svc.Get(ctx, "stale")
	if got.Status != StatusRejected || got.Notes != "expired" {
		t.Fatalf("unexpected stale record %+v", got)
	}
	got, _ = svc.Get(ctx, fresh.ID)
	if got.Status != StatusWaitingResponder {
		t.Fatalf("fresh record must stay waiting, got %s", got.Status)
	}
}

func TestExpireStale_SparesTouchedCalls(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	connect := func(requester, responder string) Record {
		r, err := svc.CreateCall(ctx, requester, CallTypeKYC)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.UpdateStatus(ctx, r.ID, StatusResponderConnected, Fields{ResponderID: responder}); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if _, err := svc.UpdateStatus(ctx, r.ID, StatusInCall, Fields{}); err != nil {
			t.Fatalf("in_call: %v", err)
		}
		return r
	}
	live := connect("user-1", "admin-1")
	abandoned := connect("user-2", "admin-2")

	for i := 0; i < 4; i++ {
		now = now.Add(4 * time.Minute)
		if _, err := svc.Touch(ctx, live.ID, "admin-1"); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}

	n, err := svc.ExpireStale(ctx, 15*time.Minute)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the abandoned call to expire, got %d", n)
	}
	got, _ := svc.Get(ctx, live.ID)
	if got.Status != StatusInCall || got.Notes != "" {
		t.Fatalf("a connected call must survive the sweep, got %+v", got)
	}
	got, _ = svc.Get(ctx, abandoned.ID)
	if got.Status != StatusRejected || got.Notes != "expired" {
		t.Fatalf("unexpected abandoned record %+v", got)
	}
}

func TestTouchGuards(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	r, _ := svc.CreateCall(ctx, "user-1", CallTypeKYC)
	r, _ = svc.UpdateStatus(ctx, r.ID, StatusResponderConnected, Fields{ResponderID: "admin-1"})

	touched, err := svc.Touch(ctx, r.ID, "admin-1")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if touched.Status != StatusResponderConnected || !touched.UpdatedAt.After(r.UpdatedAt) {
		t.Fatalf("touch must only move updated_at, got %+v", touched)
	}
	if _, err := svc.Touch(ctx, r.ID, "admin-2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, r.ID, StatusRejected, Fields{}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := svc.Touch(ctx, r.ID, "admin-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.Touch(ctx, "", "admin-1"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func waitChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
		return Change{}
	}
}
