package kyc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/documents"
)

type fixture struct {
	svc      *Service
	calls    *calls.Service
	profiles *MemoryProfiles
	audit    *audit.MemoryRepo
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	callSvc := calls.NewService(calls.NewMemoryStore(), calls.NewMemoryFeed())
	profiles := NewMemoryProfiles(
		Profile{ID: "user-1", Email: "u1@example.com", FullName: "User One", KYCStatus: StatusPending, DocumentPath: "users/user-1/id.png"},
		Profile{ID: "user-2", Email: "u2@example.com", KYCStatus: StatusPending},
	)
	repo := audit.NewMemoryRepo()
	signer, err := documents.NewSigner("secret", "https://kyc.example")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return fixture{
		svc:      NewService(callSvc, profiles, audit.NewService(repo), signer, 0),
		calls:    callSvc,
		profiles: profiles,
		audit:    repo,
	}
}

func (f fixture) liveCall(t *testing.T, status calls.Status) calls.Record {
	t.Helper()
	ctx := context.Background()
	r, err := f.calls.CreateCall(ctx, "user-1", calls.CallTypeKYC)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r, err = f.calls.UpdateStatus(ctx, r.ID, calls.StatusResponderConnected, calls.Fields{ResponderID: "admin-1"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if status == calls.StatusInCall {
		r, err = f.calls.UpdateStatus(ctx, r.ID, calls.StatusInCall, calls.Fields{})
		if err != nil {
			t.Fatalf("in call: %v", err)
		}
	}
	return r
}

func TestDecide_ApprovesAndVerifiesProfile(t *testing.T) {
	f := newFixture(t)
	r := f.liveCall(t, calls.StatusInCall)

	got, err := f.svc.Decide(context.Background(), Decision{
		CallID: r.ID, ResponderID: "admin-1", Result: calls.ResultApproved, Notes: "  ID matches ",
		ResponderRole: "admin", IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got.Status != calls.StatusCompleted || got.VerificationResult != calls.ResultApproved || got.Notes != "ID matches" {
		t.Fatalf("unexpected record %+v", got)
	}

	p, _ := f.profiles.Get(context.Background(), "user-1")
	if p.KYCStatus != StatusVerified || p.Notes != "ID matches" || p.VerifiedAt == nil {
		t.Fatalf("unexpected profile %+v", p)
	}

	evs := f.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeKYCDecision || evs[0].IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected audit events %+v", evs)
	}
}

func TestDecide_FromResponderConnected(t *testing.T) {
	f := newFixture(t)
	r := f.liveCall(t, calls.StatusResponderConnected)

	got, err := f.svc.Decide(context.Background(), Decision{CallID: r.ID, ResponderID: "admin-1", Result: calls.ResultRejected, Notes: "blurry"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got.Status != calls.StatusCompleted || got.VerificationResult != calls.ResultRejected {
		t.Fatalf("unexpected record %+v", got)
	}
	p, _ := f.profiles.Get(context.Background(), "user-1")
	if p.KYCStatus != StatusRejected || p.VerifiedAt != nil {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestDecide_Validation(t *testing.T) {
	f := newFixture(t)
	r := f.liveCall(t, calls.StatusInCall)
	ctx := context.Background()

	cases := []struct {
		name string
		d    Decision
		want error
	}{
		{"notes required", Decision{CallID: r.ID, ResponderID: "admin-1", Result: calls.ResultApproved, Notes: "   "}, ErrNotesRequired},
		{"bad result", Decision{CallID: r.ID, ResponderID: "admin-1", Result: "maybe", Notes: "x"}, ErrInvalidArgument},
		{"other responder", Decision{CallID: r.ID, ResponderID: "admin-2", Result: calls.ResultApproved, Notes: "x"}, ErrNotResponder},
		{"unknown call", Decision{CallID: "nope", ResponderID: "admin-1", Result: calls.ResultApproved, Notes: "x"}, calls.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Decide(ctx, tc.d); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	got, _ := f.calls.Get(ctx, r.ID)
	if got.Status != calls.StatusInCall {
		t.Fatalf("failed decisions must not change the record, got %s", got.Status)
	}
}

func TestDecide_WaitingCallCannotComplete(t *testing.T) {
	f := newFixture(t)
	r, _ := f.calls.CreateCall(context.Background(), "user-1", calls.CallTypeKYC)
	_, err := f.svc.Decide(context.Background(), Decision{CallID: r.ID, ResponderID: "admin-1", Result: calls.ResultApproved, Notes: "x"})
	if !errors.Is(err, calls.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDecide_ProfileMissingStillCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r, _ := f.calls.CreateCall(ctx, "ghost", calls.CallTypeKYC)
	_, _ = f.calls.UpdateStatus(ctx, r.ID, calls.StatusInCall, calls.Fields{ResponderID: "admin-1"})

	got, err := f.svc.Decide(ctx, Decision{CallID: r.ID, ResponderID: "admin-1", Result: calls.ResultApproved, Notes: "ok"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestListPending(t *testing.T) {
	f := newFixture(t)
	ps, err := f.svc.ListPending(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(ps))
	}
}

func TestDocumentURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	link, err := f.svc.DocumentURL(ctx, "user-1")
	if err != nil {
		t.Fatalf("document url: %v", err)
	}
	if !strings.HasPrefix(link.URL, "https://kyc.example/documents/") {
		t.Fatalf("unexpected url %q", link.URL)
	}
	if d := time.Until(link.ExpiresAt); d <= 0 || d > DefaultURLTTL {
		t.Fatalf("expiry should be within the default ttl, got %v", d)
	}

	if _, err := f.svc.DocumentURL(ctx, "user-2"); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
	if _, err := f.svc.DocumentURL(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReviewProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.ReviewProfile(ctx, ProfileReview{
		UserID: "user-2", ReviewerID: "admin-1", Result: calls.ResultRejected, Notes: " blurry ",
		ReviewerRole: "admin", IPAddress: "10.0.0.2",
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.KYCStatus != StatusRejected || p.Notes != "blurry" || p.VerifiedAt != nil {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := f.svc.ReviewProfile(ctx, ProfileReview{UserID: "user-2", ReviewerID: "admin-1", Result: calls.ResultRejected}); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided for a second reject, got %v", err)
	}

	p, err = f.svc.ReviewProfile(ctx, ProfileReview{UserID: "user-2", ReviewerID: "admin-1", Result: calls.ResultApproved})
	if err != nil {
		t.Fatalf("verify after reject: %v", err)
	}
	if p.KYCStatus != StatusVerified || p.VerifiedAt == nil {
		t.Fatalf("unexpected profile %+v", p)
	}
	if _, err := f.svc.ReviewProfile(ctx, ProfileReview{UserID: "user-2", ReviewerID: "admin-1", Result: calls.ResultRejected}); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected verified profile to be final, got %v", err)
	}

	evs := f.audit.Events()
	if len(evs) != 2 || evs[0].Type != audit.EventTypeProfileReview || evs[0].SubjectUserID != "user-2" || evs[0].CallID != "" || evs[0].IPAddress != "10.0.0.2" {
		t.Fatalf("unexpected audit events %+v", evs)
	}
}

func TestReviewProfile_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.ReviewProfile(ctx, ProfileReview{UserID: "user-1", ReviewerID: "admin-1", Result: "maybe"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := f.svc.ReviewProfile(ctx, ProfileReview{UserID: "user-1", Result: calls.ResultApproved}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument without reviewer, got %v", err)
	}
	if _, err := f.svc.ReviewProfile(ctx, ProfileReview{UserID: "nobody", ReviewerID: "admin-1", Result: calls.ResultApproved}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
