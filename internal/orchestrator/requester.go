package orchestrator

import (
	"context"
	"errors"
	"sync"

	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/media"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"
)

// RequesterConfig configures the party asking to be verified.
type RequesterConfig struct {
	Deps
	UserID string
	// OnState runs on the requester's event loop, as do Deps.OnNotice and Deps.OnRemoteTrack.
	// It must not block or call back into the Requester (Start, HangUp...); those wait for
	// the loop and would stall until their ctx ends. Hand states off to another goroutine instead.
	OnState func(RequesterState)
}

// Requester drives one user's side of verification calls.
//
// The requester never offers. It joins the call's signaling channel only after a
// responder has claimed the record, announces itself, and answers the offer it gets back.
type Requester struct {
	cfg RequesterConfig
	s   *session

	// Only touched on the loop.
	unsubscribe func()
	call        calls.Record

	mu    sync.RWMutex
	state RequesterState
}

func NewRequester(cfg RequesterConfig) (*Requester, error) {
	if err := cfg.Deps.validate(cfg.UserID); err != nil {
		return nil, err
	}
	cfg.Deps = cfg.Deps.withDefaults()
	cfg.Log = cfg.Log.With("user_id", cfg.UserID)

	r := &Requester{cfg: cfg, state: RequesterIdle}
	r.s = newSession(cfg.Deps, signaling.RoleRequester, handlers{
		signal:    r.onSignal,
		peerState: r.onPeerState,
		stalled:   r.onStalled,
	})
	return r, nil
}

func (r *Requester) State() RequesterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Requester) setState(st RequesterState) {
	r.mu.Lock()
	changed := r.state != st
	r.state = st
	r.mu.Unlock()
	if !changed {
		return
	}
	r.s.log.Debug("requester state", "state", st)
	if r.cfg.OnState != nil {
		r.cfg.OnState(st)
	}
}

// Start creates a call record and waits for a responder. It returns once the record exists.
func (r *Requester) Start(ctx context.Context) (calls.Record, error) {
	var out calls.Record
	err := r.s.loop.call(ctx, func() error {
		if r.State() != RequesterIdle {
			return ErrBusy
		}
		r.setState(RequesterRequested)

		if err := r.ensureSubscribed(); err != nil {
			r.s.notice(NoticeError, "Could not reach the verification service. Please try again.", err)
			r.setState(RequesterIdle)
			return err
		}

		opCtx, cancel := r.s.opCtxFrom(ctx)
		defer cancel()
		rec, err := r.cfg.Records.CreateCall(opCtx, r.cfg.UserID, calls.CallTypeKYC)
		if err != nil {
			msg := "Could not start the verification call. Please try again."
			if errors.Is(err, calls.ErrLiveCallExists) {
				msg = "You already have a verification call in progress."
			}
			r.s.notice(NoticeError, msg, err)
			r.setState(RequesterIdle)
			return err
		}

		r.s.begin(rec.ID)
		r.call = rec
		r.s.log.Info("call requested", "call_id", rec.ID)
		r.setState(RequesterWaiting)
		out = rec
		return nil
	})
	return out, err
}

// ensureSubscribed opens the record subscription once for the requester's lifetime.
func (r *Requester) ensureSubscribed() error {
	if r.unsubscribe != nil {
		return nil
	}
	cancel, err := r.cfg.Records.Subscribe(r.s.ctx, calls.Filter{RequesterID: r.cfg.UserID}, func(c calls.Change) {
		r.s.loop.post(func() { r.onChange(c) })
	})
	if err != nil {
		return err
	}
	r.unsubscribe = cancel
	return nil
}

func (r *Requester) onChange(c calls.Change) {
	a := r.s.cur
	if a == nil || c.Record.ID != a.callID {
		return
	}
	r.call = c.Record

	switch c.Record.Status.Canonical() {
	case calls.StatusResponderConnected, calls.StatusInCall:
		if r.State() == RequesterWaiting {
			r.connect(a)
		}
	case calls.StatusRejected:
		if r.State() == RequesterWaiting {
			r.s.notice(NoticeInfo, "The verifier declined your call request.", nil)
			r.finish(RequesterRejected)
			return
		}
		r.s.notice(NoticeInfo, "The verification call was ended.", nil)
		r.finish(RequesterEnded)
	case calls.StatusCompleted:
		msg := "Verification finished. We will email you the result."
		r.s.notice(NoticeInfo, msg, nil)
		r.finish(RequesterEnded)
	}
}

// connect brings up local media and the peer once a responder has claimed the call.
// A failure here leaves the record to the responder; the requester only resets.
func (r *Requester) connect(a *attempt) {
	log := logger.WithCall(r.s.log, a.callID)

	if err := r.s.acquireMedia(r.s.ctx, a); err != nil {
		msg := "Could not start your camera or microphone."
		if errors.Is(err, media.ErrPermissionDenied) {
			msg = "Camera or microphone access was denied. Allow access and try again."
		}
		r.s.notice(NoticeError, msg, err)
		r.finish(RequesterIdle)
		return
	}
	if err := r.s.openPeer(r.s.ctx, a); err != nil {
		r.s.notice(NoticeError, "Could not set up the video connection. Please try again.", err)
		r.finish(RequesterIdle)
		return
	}

	r.setState(RequesterConnecting)
	r.s.startTimer(a)
	r.s.send(a, signaling.RoleJoinedMessage(signaling.RoleRequester))
	log.Info("requester joined call")
}

func (r *Requester) onSignal(a *attempt, m signaling.Message) {
	switch m.Type {
	case signaling.TypeOffer:
		if a.conn == nil || a.answered {
			r.s.log.Debug("ignoring offer", "call_id", a.callID, "answered", a.answered)
			return
		}
		if err := r.s.answerOffer(a, m.Offer); err != nil {
			r.s.notice(NoticeError, "Could not connect the video call. Please try again.", err)
			r.finish(RequesterEnded)
		}
	case signaling.TypeICECandidate:
		if a.conn != nil {
			r.s.addCandidate(a, m.Candidate)
		}
	case signaling.TypeRoleJoined:
		r.s.log.Debug("peer announced", "call_id", a.callID, "role", m.Role)
	default:
		r.s.log.Debug("ignoring signal", "call_id", a.callID, "type", m.Type)
	}
}

func (r *Requester) onPeerState(a *attempt, st peer.State) {
	switch {
	case st == peer.StateConnected:
		r.s.stopTimer(a)
		r.setState(RequesterVerifying)
	case st.IsTerminal() && r.State().InCall():
		r.s.notice(NoticeError, "The video connection was lost.", ErrPeerLost)
		r.finish(RequesterEnded)
	}
}

func (r *Requester) onStalled(a *attempt) {
	if r.State() != RequesterConnecting {
		return
	}
	r.s.notice(NoticeError, "Could not connect the video call. Please try again.", ErrNegotiationTimeout)
	r.finish(RequesterEnded)
}

// finish reports a transient outcome, releases the attempt and returns to idle.
func (r *Requester) finish(outcome RequesterState) {
	r.s.teardown()
	r.call = calls.Record{}
	r.setState(outcome)
	r.setState(RequesterIdle)
}

// HangUp leaves the current call. The record is marked rejected if still live; that
// write is best-effort and local state resets either way.
func (r *Requester) HangUp(ctx context.Context) error {
	return r.s.loop.call(ctx, func() error {
		r.hangUp()
		return nil
	})
}

func (r *Requester) hangUp() {
	a := r.s.cur
	if a == nil {
		return
	}
	callID := a.callID
	r.finish(RequesterEnded)

	opCtx, cancel := r.s.opCtx()
	defer cancel()
	_, err := r.cfg.Records.UpdateStatus(opCtx, callID, calls.StatusRejected, calls.Fields{Notes: calls.NotesPtr("cancelled by requester")})
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrInvalidTransition), errors.Is(err, calls.ErrConflict):
		r.s.log.Debug("call already closed", "call_id", callID)
	default:
		r.s.log.Warn("mark call rejected failed", "call_id", callID, "err", err)
	}
}

// MediaStats reports what has arrived from the verifier on the current call.
func (r *Requester) MediaStats(ctx context.Context) (peer.Stats, error) {
	return r.s.mediaStats(ctx)
}

func (r *Requester) SetAudioEnabled(enabled bool) {
	r.s.loop.post(func() {
		if a := r.s.cur; a != nil && a.stream != nil {
			a.stream.SetAudioEnabled(enabled)
		}
	})
}

func (r *Requester) SetVideoEnabled(enabled bool) {
	r.s.loop.post(func() {
		if a := r.s.cur; a != nil && a.stream != nil {
			a.stream.SetVideoEnabled(enabled)
		}
	})
}

// Close hangs up and stops the requester. Idempotent.
func (r *Requester) Close() {
	r.s.close(func() {
		r.hangUp()
		if r.unsubscribe != nil {
			r.unsubscribe()
			r.unsubscribe = nil
		}
	})
}
