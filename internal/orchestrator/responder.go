package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"
)

// ResponderConfig configures the verifier side.
type ResponderConfig struct {
	Deps
	UserID string
	// Role is recorded on the audit trail with each decision.
	Role     string
	Reviewer Reviewer
	// Gate is optional.
	Gate Gate
	// OnState runs on the responder's event loop, as do Deps.OnNotice and Deps.OnRemoteTrack.
	// It must not block or call back into the Responder (Accept, Decide, HangUp...);
	// those wait for the loop and would stall until their ctx ends. Hand states off
	// to another goroutine instead.
	OnState func(ResponderState)
}

// Responder drives a verifier's side of verification calls.
//
// Accepting joins the signaling channel before claiming the record, so the
// requester's announcement can never be missed. The responder is the only offerer.
type Responder struct {
	cfg ResponderConfig
	s   *session

	// Only touched on the loop.
	unsubscribe func()
	pending     *calls.Record
	gateHeld    string

	mu       sync.RWMutex
	state    ResponderState
	snapshot *calls.Record
}

func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if err := cfg.Deps.validate(cfg.UserID); err != nil {
		return nil, err
	}
	if cfg.Reviewer == nil {
		return nil, ErrReviewerRequired
	}
	cfg.Deps = cfg.Deps.withDefaults()
	cfg.Log = cfg.Log.With("user_id", cfg.UserID)

	r := &Responder{cfg: cfg, state: ResponderIdle}
	r.s = newSession(cfg.Deps, signaling.RoleResponder, handlers{
		signal:    r.onSignal,
		peerState: r.onPeerState,
		stalled:   r.onStalled,
	})
	return r, nil
}

func (r *Responder) State() ResponderState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Pending returns the request currently offered to this responder, if any.
func (r *Responder) Pending() (calls.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot == nil {
		return calls.Record{}, false
	}
	return *r.snapshot, true
}

func (r *Responder) setState(st ResponderState) {
	r.mu.Lock()
	changed := r.state != st
	r.state = st
	r.mu.Unlock()
	if !changed {
		return
	}
	r.s.log.Debug("responder state", "state", st)
	if r.cfg.OnState != nil {
		r.cfg.OnState(st)
	}
}

func (r *Responder) setPending(rec *calls.Record) {
	r.pending = rec
	r.mu.Lock()
	if rec == nil {
		r.snapshot = nil
	} else {
		cp := *rec
		r.snapshot = &cp
	}
	r.mu.Unlock()
}

// Listen subscribes to call requests and surfaces any that were already waiting.
func (r *Responder) Listen(ctx context.Context) error {
	return r.s.loop.call(ctx, func() error {
		if r.unsubscribe == nil {
			cancel, err := r.cfg.Records.Subscribe(r.s.ctx, calls.Filter{}, func(c calls.Change) {
				r.s.loop.post(func() { r.onChange(c) })
			})
			if err != nil {
				r.s.notice(NoticeError, "Could not reach the verification service.", err)
				return err
			}
			r.unsubscribe = cancel
		}
		r.refreshPending()
		return nil
	})
}

// refreshPending offers the oldest waiting request when idle.
func (r *Responder) refreshPending() {
	if r.State() != ResponderIdle || r.unsubscribe == nil {
		return
	}
	ctx, cancel := r.s.opCtx()
	defer cancel()
	waiting, err := r.cfg.Records.ListWaiting(ctx)
	if err != nil {
		r.s.log.Warn("list waiting calls failed", "err", err)
		return
	}
	for _, rec := range waiting {
		if r.eligible(rec) {
			r.notify(rec)
			return
		}
	}
}

func (r *Responder) eligible(rec calls.Record) bool {
	return rec.Status.Canonical() == calls.StatusWaitingResponder && rec.RequesterID != r.cfg.UserID
}

func (r *Responder) notify(rec calls.Record) {
	r.setPending(&rec)
	r.s.log.Info("call request", "call_id", rec.ID, "requester_id", rec.RequesterID)
	r.setState(ResponderNotified)
}

func (r *Responder) onChange(c calls.Change) {
	rec := c.Record

	if a := r.s.cur; a != nil && rec.ID == a.callID {
		if !r.State().InCall() {
			return
		}
		switch rec.Status.Canonical() {
		case calls.StatusRejected:
			r.s.notice(NoticeInfo, "The user left the call.", nil)
			r.finish(ResponderEnded)
		case calls.StatusCompleted:
			r.s.notice(NoticeInfo, "A decision for this call was recorded elsewhere.", nil)
			r.finish(ResponderEnded)
		}
		return
	}

	switch r.State() {
	case ResponderIdle:
		if r.eligible(rec) {
			r.notify(rec)
		}
	case ResponderNotified:
		if r.pending != nil && rec.ID == r.pending.ID && !r.eligible(rec) {
			// Picked up elsewhere or withdrawn.
			r.setPending(nil)
			r.setState(ResponderIdle)
			r.refreshPending()
		}
	}
}

// Accept takes the pending request: local media, peer, relay, then the claim.
func (r *Responder) Accept(ctx context.Context) error {
	return r.s.loop.call(ctx, func() error {
		if r.State() != ResponderNotified || r.pending == nil {
			return ErrNothingPending
		}
		rec := *r.pending
		log := logger.WithCall(r.s.log, rec.ID)

		if err := r.acquireGate(ctx, rec.ID); err != nil {
			return err
		}
		r.setState(ResponderAccepted)

		a := r.s.begin(rec.ID)
		if err := r.s.acquireMedia(ctx, a); err != nil {
			r.s.notice(NoticeError, "Could not start your camera or microphone.", err)
			r.abandon()
			return err
		}
		if err := r.s.openPeer(ctx, a); err != nil {
			r.s.notice(NoticeError, "Could not set up the video connection.", err)
			r.abandon()
			return err
		}
		// The caller may have given up while media and peer came up; nothing is claimed yet.
		if err := ctx.Err(); err != nil {
			r.abandon()
			return err
		}

		opCtx, cancel := r.s.opCtxFrom(ctx)
		claimed, err := r.cfg.Records.UpdateStatus(opCtx, rec.ID, calls.StatusResponderConnected, calls.Fields{ResponderID: r.cfg.UserID})
		cancel()
		if err != nil {
			msg := "Could not accept the call. Please try again."
			if errors.Is(err, calls.ErrConflict) || errors.Is(err, calls.ErrInvalidTransition) {
				msg = "This request is no longer available."
			}
			r.s.notice(NoticeError, msg, err)
			r.abandon()
			return err
		}

		r.setPending(&claimed)
		r.setState(ResponderConnecting)
		r.s.startTimer(a)
		r.s.send(a, signaling.RoleJoinedMessage(signaling.RoleResponder))
		log.Info("call accepted")
		return nil
	})
}

// abandon drops a failed accept without touching the record.
func (r *Responder) abandon() {
	r.s.teardown()
	r.releaseGate()
	r.setPending(nil)
	r.setState(ResponderIdle)
	r.refreshPending()
}

// Reject declines the pending request without acquiring media.
func (r *Responder) Reject(ctx context.Context) error {
	return r.s.loop.call(ctx, func() error {
		if r.State() != ResponderNotified || r.pending == nil {
			return ErrNothingPending
		}
		rec := *r.pending

		opCtx, cancel := r.s.opCtxFrom(ctx)
		defer cancel()
		_, err := r.cfg.Records.UpdateStatus(opCtx, rec.ID, calls.StatusRejected, calls.Fields{
			ResponderID: r.cfg.UserID,
			Notes:       calls.NotesPtr("declined by verifier"),
		})
		if err != nil && !errors.Is(err, calls.ErrInvalidTransition) && !errors.Is(err, calls.ErrConflict) {
			r.s.notice(NoticeError, "Could not decline the request. Please try again.", err)
			return err
		}

		r.s.log.Info("call declined", "call_id", rec.ID)
		r.setPending(nil)
		r.setState(ResponderRejected)
		r.setState(ResponderIdle)
		r.refreshPending()
		return nil
	})
}

// Decide records the verdict for the connected call and ends it.
func (r *Responder) Decide(ctx context.Context, result calls.Result, notes string) (calls.Record, error) {
	var out calls.Record
	err := r.s.loop.call(ctx, func() error {
		a := r.s.cur
		if r.State() != ResponderReviewing || a == nil {
			return ErrNotReviewing
		}
		if strings.TrimSpace(notes) == "" {
			return kyc.ErrNotesRequired
		}
		if !result.Valid() {
			return kyc.ErrInvalidArgument
		}

		opCtx, cancel := r.s.opCtxFrom(ctx)
		defer cancel()
		rec, err := r.cfg.Reviewer.Decide(opCtx, kyc.Decision{
			CallID:        a.callID,
			ResponderID:   r.cfg.UserID,
			ResponderRole: r.cfg.Role,
			Result:        result,
			Notes:         notes,
		})
		if err != nil {
			r.s.notice(NoticeError, "Could not save the decision. Please try again.", err)
			return err
		}

		r.s.log.Info("call decided", "call_id", a.callID, "result", result)
		out = rec
		r.finish(ResponderDecided)
		return nil
	})
	return out, err
}

// MediaStats reports what has arrived from the requester on the current call.
func (r *Responder) MediaStats(ctx context.Context) (peer.Stats, error) {
	return r.s.mediaStats(ctx)
}

// DocumentURL links the pending or connected requester's identity document.
func (r *Responder) DocumentURL(ctx context.Context) (kyc.DocumentLink, error) {
	rec, ok := r.Pending()
	if !ok {
		return kyc.DocumentLink{}, ErrNothingPending
	}
	return r.cfg.Reviewer.DocumentURL(ctx, rec.RequesterID)
}

func (r *Responder) onSignal(a *attempt, m signaling.Message) {
	switch m.Type {
	case signaling.TypeRoleJoined:
		if m.Role != signaling.RoleRequester || a.offered {
			return
		}
		if err := r.s.makeOffer(a); err != nil {
			r.s.notice(NoticeError, "Could not start the video connection.", err)
			r.abort("offer failed")
		}
	case signaling.TypeAnswer:
		if !a.offered || a.answered {
			r.s.log.Debug("ignoring answer", "call_id", a.callID)
			return
		}
		if err := a.conn.SetRemoteDescription(m.Answer); err != nil {
			r.s.notice(NoticeError, "Could not connect the video call.", err)
			r.abort("negotiation failed")
			return
		}
		a.answered = true
	case signaling.TypeICECandidate:
		r.s.addCandidate(a, m.Candidate)
	default:
		r.s.log.Debug("ignoring signal", "call_id", a.callID, "type", m.Type)
	}
}

func (r *Responder) onPeerState(a *attempt, st peer.State) {
	switch {
	case st == peer.StateConnected && r.State() == ResponderConnecting:
		r.s.stopTimer(a)
		r.setState(ResponderReviewing)

		opCtx, cancel := r.s.opCtx()
		defer cancel()
		if _, err := r.cfg.Records.UpdateStatus(opCtx, a.callID, calls.StatusInCall, calls.Fields{ResponderID: r.cfg.UserID}); err != nil {
			r.s.log.Warn("mark call in progress failed", "call_id", a.callID, "err", err)
		}
		r.s.startHeartbeat(a, r.touch)
	case st.IsTerminal() && r.State().InCall():
		r.s.notice(NoticeError, "The video connection was lost.", ErrPeerLost)
		r.abort("connection lost")
	}
}

// touch keeps the reviewed record fresh for the stale sweeper.
func (r *Responder) touch(a *attempt) {
	if r.State() != ResponderReviewing {
		return
	}
	ctx, cancel := r.s.opCtx()
	defer cancel()
	if _, err := r.cfg.Records.Touch(ctx, a.callID, r.cfg.UserID); err != nil {
		r.s.log.Warn("call heartbeat failed", "call_id", a.callID, "err", err)
	}
}

func (r *Responder) onStalled(a *attempt) {
	if r.State() != ResponderConnecting {
		return
	}
	r.s.notice(NoticeError, "Could not connect to the user. The request was closed.", ErrNegotiationTimeout)
	r.abort("connection timed out")
}

// HangUp ends the current call without a decision.
func (r *Responder) HangUp(ctx context.Context) error {
	return r.s.loop.call(ctx, func() error {
		r.abort("ended by verifier")
		return nil
	})
}

// abort ends the current attempt before a decision. The record is marked rejected best-effort.
func (r *Responder) abort(reason string) {
	a := r.s.cur
	if a == nil {
		return
	}
	callID := a.callID
	r.finish(ResponderEnded)

	opCtx, cancel := r.s.opCtx()
	defer cancel()
	_, err := r.cfg.Records.UpdateStatus(opCtx, callID, calls.StatusRejected, calls.Fields{Notes: calls.NotesPtr(reason)})
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrInvalidTransition), errors.Is(err, calls.ErrConflict):
		r.s.log.Debug("call already closed", "call_id", callID)
	default:
		r.s.log.Warn("mark call rejected failed", "call_id", callID, "err", err)
	}
}

// finish reports a transient outcome, releases the attempt and returns to idle.
func (r *Responder) finish(outcome ResponderState) {
	r.s.teardown()
	r.releaseGate()
	r.setPending(nil)
	r.setState(outcome)
	r.setState(ResponderIdle)
	r.refreshPending()
}

func (r *Responder) acquireGate(ctx context.Context, callID string) error {
	if r.cfg.Gate == nil {
		return nil
	}
	gctx, cancel := r.s.opCtxFrom(ctx)
	defer cancel()
	ok, err := r.cfg.Gate.Acquire(gctx, r.cfg.UserID, callID)
	if err != nil {
		r.s.notice(NoticeError, "Could not accept the call. Please try again.", err)
		return err
	}
	if !ok {
		r.s.notice(NoticeError, "Finish your current call before accepting another.", ErrResponderAtCap)
		return ErrResponderAtCap
	}
	r.gateHeld = callID
	return nil
}

func (r *Responder) releaseGate() {
	if r.cfg.Gate == nil || r.gateHeld == "" {
		return
	}
	ctx, cancel := r.s.opCtx()
	defer cancel()
	if err := r.cfg.Gate.Release(ctx, r.cfg.UserID, r.gateHeld); err != nil {
		r.s.log.Warn("release responder slot failed", "err", err)
	}
	r.gateHeld = ""
}

// Close hangs up and stops the responder. Idempotent.
func (r *Responder) Close() {
	r.s.close(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
			r.unsubscribe = nil
		}
		r.abort("verifier went offline")
	})
}
