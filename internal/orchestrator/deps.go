package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/media"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/signaling"
)

// Records is the call record store and its change feed. *calls.Service implements it.
type Records interface {
	CreateCall(ctx context.Context, requesterID string, callType calls.CallType) (calls.Record, error)
	Get(ctx context.Context, id string) (calls.Record, error)
	ListWaiting(ctx context.Context) ([]calls.Record, error)
	UpdateStatus(ctx context.Context, id string, to calls.Status, f calls.Fields) (calls.Record, error)
	Subscribe(ctx context.Context, f calls.Filter, fn func(calls.Change)) (func(), error)
	Touch(ctx context.Context, id, responderID string) (calls.Record, error)
}

// Reviewer records verdicts and hands out identity documents. *kyc.Service implements it.
type Reviewer interface {
	Decide(ctx context.Context, d kyc.Decision) (calls.Record, error)
	DocumentURL(ctx context.Context, userID string) (kyc.DocumentLink, error)
}

// Gate caps how many calls one responder holds at once. *utils.SlotLimiter implements it.
type Gate interface {
	Acquire(ctx context.Context, key, holder string) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// Deps are shared by both roles.
type Deps struct {
	Records Records
	// Relay is this participant's signaling client; it is joined per call and left on teardown.
	Relay signaling.Relay
	Peers peer.Factory
	Media media.Source

	// NegotiationTimeout bounds connecting -> connected.
	NegotiationTimeout time.Duration
	// Heartbeat is how often a reviewing responder touches its record. Keep it well under
	// the stale sweeper's cutoff.
	Heartbeat time.Duration

	// OnNotice and OnRemoteTrack run on the event loop; see RequesterConfig.OnState.
	OnNotice      func(Notice)
	OnRemoteTrack func(peer.RemoteTrack)

	Log *slog.Logger
}

const (
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultHeartbeat          = time.Minute

	// opTimeout bounds each store or relay round trip made from the event loop.
	opTimeout = 10 * time.Second
)

var (
	ErrClosed             = errors.New("orchestrator: closed")
	ErrBusy               = errors.New("orchestrator: a call is already in progress")
	ErrNothingPending     = errors.New("orchestrator: no call request to act on")
	ErrNotReviewing       = errors.New("orchestrator: no connected call to decide")
	ErrResponderAtCap     = errors.New("orchestrator: responder is at the live call limit")
	ErrMissingDeps        = errors.New("orchestrator: records, relay, peers and media are required")
	ErrReviewerRequired   = errors.New("orchestrator: responder needs a reviewer")
	ErrUserIDRequired     = errors.New("orchestrator: user id required")
	ErrNegotiationTimeout = errors.New("orchestrator: media negotiation timed out")
	ErrPeerLost           = errors.New("orchestrator: media connection lost")
	ErrNoMedia            = errors.New("orchestrator: no media connection")
)

func (d Deps) validate(userID string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	if d.Records == nil || d.Relay == nil || d.Peers == nil || d.Media == nil {
		return ErrMissingDeps
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.NegotiationTimeout <= 0 {
		d.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if d.Heartbeat <= 0 {
		d.Heartbeat = DefaultHeartbeat
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return d
}
