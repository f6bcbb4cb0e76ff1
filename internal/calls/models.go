package calls

import (
	"errors"
	"time"
)

// Record is one verification call attempt and its outcome.
//
// Invariants:
// - At most one live record (see Status.IsLive) per requester.
// - VerificationResult is set iff Status is completed.
// - ResponderID is set no later than the transition into responder_connected.
//
// Records are never deleted; they are the audit trail of the KYC decision.
type Record struct {
	ID          string `json:"id" db:"id"`
	RequesterID string `json:"requester_id" db:"requester_id"`
	ResponderID string `json:"responder_id,omitempty" db:"responder_id"`

	Status   Status   `json:"status" db:"status"`
	CallType CallType `json:"call_type" db:"call_type"`

	VerificationResult Result `json:"verification_result,omitempty" db:"verification_result"`
	Notes              string `json:"notes,omitempty" db:"notes"`

	// Version increments on every write; used for optimistic concurrency.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	// ConnectedAt is when a responder first claimed the call. Nil for requests nobody picked up.
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
}

type CallType string

const CallTypeKYC CallType = "kyc_verification"

type Result string

const (
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
)

func (r Result) Valid() bool {
	return r == ResultApproved || r == ResultRejected
}

// Fields are the optional columns carried alongside a status transition.
// Zero values mean "leave unchanged".
type Fields struct {
	ResponderID        string
	VerificationResult Result
	Notes              *string
}

// NotesPtr is a convenience for Fields.Notes.
func NotesPtr(s string) *string { return &s }

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrLiveCallExists    = errors.New("calls: requester already has a live call")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	ErrConflict          = errors.New("calls: record changed concurrently")
)

// Validate checks the record-level invariants.
func (r Record) Validate() error {
	if r.ID == "" || r.RequesterID == "" {
		return ErrInvalidArgument
	}
	if !r.Status.Valid() {
		return ErrInvalidArgument
	}
	status := r.Status.Canonical()
	if (status == StatusCompleted) != (r.VerificationResult != "") {
		return errors.New("calls: verification_result must be set iff status is completed")
	}
	if r.VerificationResult != "" && !r.VerificationResult.Valid() {
		return ErrInvalidArgument
	}
	switch status {
	case StatusResponderConnected, StatusInCall, StatusCompleted:
		if r.ResponderID == "" {
			return errors.New("calls: responder_id required once a responder has connected")
		}
	}
	return nil
}

// apply returns r with u written into it. It does not validate.
func (r Record) apply(to Status, f Fields, now time.Time) Record {
	r.Status = to
	if f.ResponderID != "" {
		r.ResponderID = f.ResponderID
	}
	if f.VerificationResult != "" {
		r.VerificationResult = f.VerificationResult
	}
	if f.Notes != nil {
		r.Notes = *f.Notes
	}
	if r.ConnectedAt == nil && (to == StatusResponderConnected || to == StatusInCall) {
		t := now
		r.ConnectedAt = &t
	}
	r.Version++
	r.UpdatedAt = now
	return r
}
