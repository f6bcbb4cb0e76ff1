package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListByCall returns a call's events, oldest first.
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service logs internal audit information.
// Audit records are internal-only; callers treat logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" && e.SubjectUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// ForCall returns the trail of one call, oldest first.
func (s *Service) ForCall(ctx context.Context, callID string) ([]Event, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}

// Actor identifies who performed an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}

// LogDecision records a KYC verdict reached on a call.
func (s *Service) LogDecision(ctx context.Context, actor Actor, callID, subjectUserID, result, notes string) error {
	meta, _ := json.Marshal(map[string]string{"result": result, "notes": notes})
	return s.Append(ctx, Event{
		Type:          EventTypeKYCDecision,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		CallID:        callID,
		SubjectUserID: subjectUserID,
		Message:       "kyc " + result,
		Metadata:      string(meta),
	})
}

// LogProfileReview records a KYC status set on a profile without a call.
func (s *Service) LogProfileReview(ctx context.Context, actor Actor, subjectUserID, result, notes string) error {
	meta, _ := json.Marshal(map[string]string{"result": result, "notes": notes})
	return s.Append(ctx, Event{
		Type:          EventTypeProfileReview,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		SubjectUserID: subjectUserID,
		Message:       "kyc " + result,
		Metadata:      string(meta),
	})
}

// LogTransition records a call status change made through the API.
func (s *Service) LogTransition(ctx context.Context, actor Actor, callID, subjectUserID, from, to string) error {
	return s.Append(ctx, Event{
		Type:          EventTypeCallTransition,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		CallID:        callID,
		SubjectUserID: subjectUserID,
		Message:       from + " -> " + to,
	})
}
