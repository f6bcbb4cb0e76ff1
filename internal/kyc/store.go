package kyc

import (
	"context"
	"time"
)

// ProfileStore persists KYC profile state.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (Profile, error)
	ListByStatus(ctx context.Context, status Status) ([]Profile, error)
	// ApplyDecision sets status and notes; VerifiedAt is set to at when status is verified.
	ApplyDecision(ctx context.Context, userID string, status Status, notes string, at time.Time) (Profile, error)
}
