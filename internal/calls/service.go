package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"videokyc-platform/pkg/logger"

	"github.com/google/uuid"
)

// Service is the Call Record Store as seen by both orchestration roles and the HTTP API.
//
// Writes are conditional: UpdateStatus reads the record, checks the transition table and
// writes only if the stored status is still the one it read. A concurrent writer gets ErrConflict.
type Service struct {
	store Store
	feed  Feed
	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(store Store, feed Feed) *Service {
	return &Service{store: store, feed: feed, clock: time.Now, newID: uuid.NewString}
}

// CreateCall inserts a waiting record for the requester.
func (s *Service) CreateCall(ctx context.Context, requesterID string, callType CallType) (Record, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return Record{}, ErrInvalidArgument
	}
	if callType == "" {
		callType = CallTypeKYC
	}

	now := s.clock().UTC()
	r := Record{
		ID:          s.newID(),
		RequesterID: requesterID,
		Status:      StatusWaitingResponder,
		CallType:    callType,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := s.store.Insert(ctx, r)
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx, Change{Record: created, At: now})
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	if id == "" {
		return Record{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, id)
}

// ListWaiting returns records nobody has picked up yet, oldest first.
func (s *Service) ListWaiting(ctx context.Context) ([]Record, error) {
	return s.store.ListByStatus(ctx, StatusWaitingResponder, StatusWaitingAdmin)
}

// UpdateStatus moves a record to a new status, optionally setting responder, result and notes.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, f Fields) (Record, error) {
	if id == "" || !to.Valid() || to == StatusWaitingAdmin {
		return Record{}, ErrInvalidArgument
	}
	if f.VerificationResult != "" && !f.VerificationResult.Valid() {
		return Record{}, ErrInvalidArgument
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(current.Status, to) {
		return Record{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	if current.ResponderID != "" && f.ResponderID != "" && current.ResponderID != f.ResponderID {
		return Record{}, fmt.Errorf("%w: call belongs to another responder", ErrConflict)
	}

	now := s.clock().UTC()
	next := current.apply(to, f, now)
	if err := next.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	updated, err := s.store.CompareAndSwap(ctx, id, current.Status, next)
	if err != nil {
		return Record{}, err
	}
	s.publish(ctx, Change{Record: updated, Previous: current.Status, At: now})
	return updated, nil
}

// Touch refreshes a live record's updated_at without changing its status, so the
// stale sweeper spares calls that are still being worked. Touches are not published.
// A claimed record may only be touched by its responder.
func (s *Service) Touch(ctx context.Context, id, responderID string) (Record, error) {
	if id == "" {
		return Record{}, ErrInvalidArgument
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !current.Status.IsLive() {
		return Record{}, fmt.Errorf("%w: %s is closed", ErrInvalidTransition, current.Status)
	}
	if responderID != "" && current.ResponderID != "" && current.ResponderID != responderID {
		return Record{}, fmt.Errorf("%w: call belongs to another responder", ErrConflict)
	}
	next := current.apply(current.Status, Fields{}, s.clock().UTC())
	return s.store.CompareAndSwap(ctx, id, current.Status, next)
}

// Subscribe streams every change matching f to fn until the returned cancel is called
// or ctx ends. fn runs on a single goroutine per subscription.
func (s *Service) Subscribe(ctx context.Context, f Filter, fn func(Change)) (func(), error) {
	if s.feed == nil {
		return nil, errors.New("calls: feed not configured")
	}
	ch, stop, err := s.feed.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			stop()
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case c, ok := <-ch:
				if !ok {
					return
				}
				if f.Match(c.Record) {
					fn(c)
				}
			}
		}
	}()
	return cancel, nil
}

// ExpireStale rejects live records that have not been written for longer than olderThan.
// Connected calls stay fresh through Touch, so only abandoned ones age out here.
// It returns how many records were expired. Records that change underneath are skipped.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidArgument
	}
	log := logger.From(ctx)

	stale, err := s.store.ListStale(ctx, s.clock().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range stale {
		_, err := s.UpdateStatus(ctx, r.ID, StatusRejected, Fields{Notes: NotesPtr("expired")})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
			log.Debug("stale call changed before expiry", "call_id", r.ID)
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (s *Service) publish(ctx context.Context, c Change) {
	if s.feed == nil {
		return
	}
	if err := s.feed.Publish(ctx, c); err != nil {
		logger.From(ctx).Warn("call change publish failed", "call_id", c.Record.ID, "err", err)
	}
}
