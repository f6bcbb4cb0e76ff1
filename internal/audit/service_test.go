package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestService_AppendRequiresTypeAndTarget(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{CallID: "c1"}); err == nil {
		t.Fatalf("expected error without type")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeKYCDecision}); err == nil {
		t.Fatalf("expected error without call or subject")
	}
}

func TestService_NilIsNotConfigured(t *testing.T) {
	var svc *Service
	if err := svc.Append(context.Background(), Event{Type: EventTypeKYCDecision, CallID: "c"}); err == nil {
		t.Fatalf("expected error from nil service")
	}
}

func TestService_LogDecision(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	actor := Actor{UserID: "admin-1", Role: "admin", IP: "1.2.3.4"}
	if err := svc.LogDecision(context.Background(), actor, "call-1", "user-1", "approved", "ID matches"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
	if e.Type != EventTypeKYCDecision || e.IPAddress != "1.2.3.4" || e.SubjectUserID != "user-1" {
		t.Fatalf("unexpected event %+v", e)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(e.Metadata), &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["notes"] != "ID matches" {
		t.Fatalf("expected notes in metadata, got %v", meta)
	}
}

func TestService_LogTransition(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	if err := svc.LogTransition(context.Background(), Actor{UserID: "u"}, "call-1", "u", "waiting_responder", "rejected"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := repo.Events()[0].Message; got != "waiting_responder -> rejected" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestService_ForCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	base := time.Unix(1700000000, 0).UTC()
	ctx := context.Background()

	_ = svc.Append(ctx, Event{Type: EventTypeKYCDecision, CallID: "call-1", CreatedAt: base.Add(2 * time.Second)})
	_ = svc.Append(ctx, Event{Type: EventTypeCallTransition, CallID: "call-2", CreatedAt: base})
	_ = svc.Append(ctx, Event{Type: EventTypeCallTransition, CallID: "call-1", CreatedAt: base.Add(time.Second)})

	evs, err := svc.ForCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != EventTypeCallTransition || evs[1].Type != EventTypeKYCDecision {
		t.Fatalf("expected call-1 trail oldest first, got %+v", evs)
	}
	if _, err := svc.ForCall(ctx, ""); err == nil {
		t.Fatalf("expected error without call id")
	}
}
