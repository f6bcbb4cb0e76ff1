package kyc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/calls"
	"videokyc-platform/pkg/logger"
)

// Calls is the slice of the call record store a decision needs.
type Calls interface {
	Get(ctx context.Context, id string) (calls.Record, error)
	UpdateStatus(ctx context.Context, id string, to calls.Status, f calls.Fields) (calls.Record, error)
}

// URLSigner issues time-limited links to stored documents.
type URLSigner interface {
	SignedURL(objectPath string, ttl time.Duration) (string, time.Time, error)
}

const DefaultURLTTL = 60 * time.Second

type Service struct {
	calls    Calls
	profiles ProfileStore
	audit    *audit.Service
	signer   URLSigner
	urlTTL   time.Duration
	clock    func() time.Time
}

func NewService(c Calls, profiles ProfileStore, auditSvc *audit.Service, signer URLSigner, urlTTL time.Duration) *Service {
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	return &Service{
		calls:    c,
		profiles: profiles,
		audit:    auditSvc,
		signer:   signer,
		urlTTL:   urlTTL,
		clock:    time.Now,
	}
}

// Decide closes a call with a verdict and records it on the requester's profile.
//
// The call record is the source of truth: once it is completed, profile and audit
// failures are logged and do not fail the decision.
func (s *Service) Decide(ctx context.Context, d Decision) (calls.Record, error) {
	notes := strings.TrimSpace(d.Notes)
	if notes == "" {
		return calls.Record{}, ErrNotesRequired
	}
	if d.CallID == "" || d.ResponderID == "" || !d.Result.Valid() {
		return calls.Record{}, ErrInvalidArgument
	}

	rec, err := s.calls.Get(ctx, d.CallID)
	if err != nil {
		return calls.Record{}, err
	}
	if rec.ResponderID != "" && rec.ResponderID != d.ResponderID {
		return calls.Record{}, ErrNotResponder
	}

	// The in_call write can be lost if the responder decides right after media connects.
	if rec.Status.Canonical() == calls.StatusResponderConnected {
		rec, err = s.calls.UpdateStatus(ctx, d.CallID, calls.StatusInCall, calls.Fields{ResponderID: d.ResponderID})
		if err != nil && !errors.Is(err, calls.ErrInvalidTransition) {
			return calls.Record{}, fmt.Errorf("mark in call: %w", err)
		}
	}

	rec, err = s.calls.UpdateStatus(ctx, d.CallID, calls.StatusCompleted, calls.Fields{
		ResponderID:        d.ResponderID,
		VerificationResult: d.Result,
		Notes:              calls.NotesPtr(notes),
	})
	if err != nil {
		return calls.Record{}, err
	}

	log := logger.WithCall(logger.From(ctx), rec.ID)
	if _, err := s.profiles.ApplyDecision(ctx, rec.RequesterID, statusFor(d.Result), notes, s.clock().UTC()); err != nil {
		log.Error("profile update after decision failed", "user_id", rec.RequesterID, "err", err)
	}
	if s.audit != nil {
		actor := audit.Actor{UserID: d.ResponderID, Role: d.ResponderRole, IP: d.IPAddress}
		if err := s.audit.LogDecision(ctx, actor, rec.ID, rec.RequesterID, string(d.Result), notes); err != nil {
			log.Warn("audit decision failed", "err", err)
		}
	}
	log.Info("kyc decision recorded", "result", d.Result, "responder_id", d.ResponderID)
	return rec, nil
}

// ReviewProfile verifies or rejects a profile without a call.
// A verified profile is final, and a rejected one can only be verified.
func (s *Service) ReviewProfile(ctx context.Context, rv ProfileReview) (Profile, error) {
	if rv.UserID == "" || rv.ReviewerID == "" || !rv.Result.Valid() {
		return Profile{}, ErrInvalidArgument
	}
	p, err := s.profiles.Get(ctx, rv.UserID)
	if err != nil {
		return Profile{}, err
	}
	to := statusFor(rv.Result)
	if p.KYCStatus == StatusVerified || p.KYCStatus == to {
		return Profile{}, ErrAlreadyDecided
	}

	notes := strings.TrimSpace(rv.Notes)
	p, err = s.profiles.ApplyDecision(ctx, rv.UserID, to, notes, s.clock().UTC())
	if err != nil {
		return Profile{}, err
	}

	log := logger.From(ctx).With("user_id", rv.UserID)
	if s.audit != nil {
		actor := audit.Actor{UserID: rv.ReviewerID, Role: rv.ReviewerRole, IP: rv.IPAddress}
		if err := s.audit.LogProfileReview(ctx, actor, rv.UserID, string(rv.Result), notes); err != nil {
			log.Warn("audit profile review failed", "err", err)
		}
	}
	log.Info("kyc profile reviewed", "result", rv.Result, "reviewer_id", rv.ReviewerID)
	return p, nil
}

// ListPending returns profiles awaiting a verification call, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Profile, error) {
	return s.profiles.ListByStatus(ctx, StatusPending)
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return Profile{}, ErrInvalidArgument
	}
	return s.profiles.Get(ctx, userID)
}

// DocumentURL returns a short-lived link to the user's identity document.
func (s *Service) DocumentURL(ctx context.Context, userID string) (DocumentLink, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return DocumentLink{}, err
	}
	if p.DocumentPath == "" {
		return DocumentLink{}, ErrNoDocument
	}
	if s.signer == nil {
		return DocumentLink{}, errors.New("kyc: document signer not configured")
	}
	u, exp, err := s.signer.SignedURL(p.DocumentPath, s.urlTTL)
	if err != nil {
		return DocumentLink{}, fmt.Errorf("sign document url: %w", err)
	}
	return DocumentLink{URL: u, ExpiresAt: exp}, nil
}
