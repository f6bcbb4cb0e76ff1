package kyc

import (
	"errors"
	"time"

	"videokyc-platform/internal/calls"
)

// Status is a profile's identity verification state.
type Status string

const (
	StatusNotSubmitted Status = "not_submitted"
	StatusPending      Status = "pending"
	StatusVerified     Status = "verified"
	StatusRejected     Status = "rejected"
)

// Profile is the verified person as far as KYC is concerned.
type Profile struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	FullName     string     `json:"full_name" db:"full_name"`
	KYCStatus    Status     `json:"kyc_status" db:"kyc_status"`
	DocumentPath string     `json:"kyc_document_path,omitempty" db:"kyc_document_path"`
	Notes        string     `json:"kyc_notes,omitempty" db:"kyc_notes"`
	VerifiedAt   *time.Time `json:"kyc_verified_at,omitempty" db:"kyc_verified_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Decision is a responder's verdict on one call.
type Decision struct {
	CallID      string
	ResponderID string
	Result      calls.Result
	Notes       string

	// ResponderRole and IPAddress only feed the audit trail.
	ResponderRole string
	IPAddress     string
}

// ProfileReview sets a profile's status from the document review alone,
// outside any call.
type ProfileReview struct {
	UserID     string
	ReviewerID string
	Result     calls.Result
	Notes      string

	ReviewerRole string
	IPAddress    string
}

// DocumentLink is a time-limited URL to a requester's identity document.
type DocumentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrNotesRequired   = errors.New("kyc: decision notes are required")
	ErrNotFound        = errors.New("kyc: profile not found")
	ErrNoDocument      = errors.New("kyc: no document on file")
	ErrInvalidArgument = errors.New("kyc: invalid argument")
	ErrNotResponder    = errors.New("kyc: call is assigned to another responder")
	ErrAlreadyDecided  = errors.New("kyc: profile already decided")
)

// statusFor maps a call verdict onto the profile status.
func statusFor(r calls.Result) Status {
	if r == calls.ResultApproved {
		return StatusVerified
	}
	return StatusRejected
}
