package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"videokyc-platform/internal/media"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/signaling"
)

// attempt is everything held for one call. It is replaced, never reused, so
// callbacks bound to an old attempt can tell they are stale.
type attempt struct {
	callID string
	stream media.Stream
	conn   peer.Connection
	joined bool
	timer  *time.Timer
	beat   chan struct{}

	// offered and answered make negotiation one-shot per attempt.
	offered  bool
	answered bool
}

// handlers route attempt events back into a role. They run on the loop.
type handlers struct {
	signal    func(a *attempt, m signaling.Message)
	peerState func(a *attempt, s peer.State)
	stalled   func(a *attempt)
}

// session is the machinery both roles share: the event loop, the current
// attempt, and its media, peer and relay resources.
type session struct {
	deps Deps
	role string
	log  *slog.Logger
	loop *loop

	// ctx outlives attempts; it ends on Close.
	ctx    context.Context
	cancel context.CancelFunc

	// cur is only touched on the loop goroutine.
	cur *attempt
	h   handlers
}

func newSession(d Deps, role string, h handlers) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		deps:   d,
		role:   role,
		log:    d.Log.With("role", role),
		loop:   newLoop(),
		ctx:    ctx,
		cancel: cancel,
		h:      h,
	}
}

func (s *session) opCtx() (context.Context, context.CancelFunc) {
	return s.opCtxFrom(s.ctx)
}

// scoped derives a context that ends with parent or when the session closes.
func (s *session) scoped(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// opCtxFrom bounds a store or relay call made on behalf of a caller's ctx.
func (s *session) opCtxFrom(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, release := s.scoped(parent)
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	return ctx, func() {
		cancel()
		release()
	}
}

// post queues fn to run only if a is still the current attempt.
func (s *session) post(a *attempt, fn func()) {
	s.loop.post(func() {
		if s.cur != a {
			return
		}
		fn()
	})
}

func (s *session) begin(callID string) *attempt {
	s.teardown()
	s.cur = &attempt{callID: callID}
	return s.cur
}

func (s *session) acquireMedia(ctx context.Context, a *attempt) error {
	mctx, cancel := s.scoped(ctx)
	defer cancel()
	stream, err := s.deps.Media.Acquire(mctx)
	if err != nil {
		return err
	}
	a.stream = stream
	return nil
}

// openPeer creates the connection, attaches local media and joins the call's relay channel.
func (s *session) openPeer(ctx context.Context, a *attempt) error {
	conn, err := s.deps.Peers.Create(peer.Callbacks{
		OnLocalCandidate: func(c json.RawMessage) {
			s.post(a, func() { s.send(a, signaling.CandidateMessage(c)) })
		},
		OnRemoteTrack: func(t peer.RemoteTrack) {
			s.post(a, func() {
				s.log.Info("remote track", "call_id", a.callID, "kind", t.Kind, "codec", t.MimeType)
				if s.deps.OnRemoteTrack != nil {
					s.deps.OnRemoteTrack(t)
				}
			})
		},
		OnStateChange: func(st peer.State) {
			s.post(a, func() { s.h.peerState(a, st) })
		},
	})
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}
	a.conn = conn
	if err := conn.AttachLocalMedia(a.stream); err != nil {
		return fmt.Errorf("attach media: %w", err)
	}

	jctx, cancel := s.opCtxFrom(ctx)
	defer cancel()
	err = s.deps.Relay.Join(jctx, a.callID, func(m signaling.Message) {
		s.post(a, func() { s.h.signal(a, m) })
	})
	if err != nil {
		return fmt.Errorf("join signaling: %w", err)
	}
	a.joined = true
	return nil
}

// send publishes on the relay. Failures are logged; the negotiation timer covers lost signals.
func (s *session) send(a *attempt, m signaling.Message) bool {
	ctx, cancel := s.opCtx()
	defer cancel()
	if err := s.deps.Relay.Send(ctx, a.callID, m); err != nil {
		s.log.Warn("signal send failed", "call_id", a.callID, "type", m.Type, "err", err)
		return false
	}
	return true
}

func (s *session) startTimer(a *attempt) {
	a.timer = time.AfterFunc(s.deps.NegotiationTimeout, func() {
		s.post(a, func() { s.h.stalled(a) })
	})
}

func (s *session) stopTimer(a *attempt) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// startHeartbeat runs beat on the loop every Deps.Heartbeat until the attempt ends.
func (s *session) startHeartbeat(a *attempt, beat func(a *attempt)) {
	if a.beat != nil {
		return
	}
	stop := make(chan struct{})
	a.beat = stop
	go func() {
		t := time.NewTicker(s.deps.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			case <-t.C:
				s.post(a, func() { beat(a) })
			}
		}
	}()
}

// teardown releases everything the current attempt holds. Safe to call when idle.
func (s *session) teardown() {
	a := s.cur
	if a == nil {
		return
	}
	s.cur = nil
	s.stopTimer(a)
	if a.beat != nil {
		close(a.beat)
		a.beat = nil
	}
	if a.joined {
		if err := s.deps.Relay.Leave(); err != nil {
			s.log.Debug("relay leave failed", "call_id", a.callID, "err", err)
		}
	}
	if a.conn != nil {
		st := a.conn.Stats()
		s.log.Info("call media received", "call_id", a.callID, "packets", st.PacketsReceived, "bytes", st.BytesReceived)
		if err := a.conn.Close(); err != nil {
			s.log.Debug("peer close failed", "call_id", a.callID, "err", err)
		}
	}
	if a.stream != nil {
		a.stream.Stop()
	}
}

// mediaStats reads the current attempt's receive counters through the loop.
func (s *session) mediaStats(ctx context.Context) (peer.Stats, error) {
	var out peer.Stats
	err := s.loop.call(ctx, func() error {
		a := s.cur
		if a == nil || a.conn == nil {
			return ErrNoMedia
		}
		out = a.conn.Stats()
		return nil
	})
	return out, err
}

// answerOffer applies a remote offer and replies. Only the requester answers.
func (s *session) answerOffer(a *attempt, offer json.RawMessage) error {
	if err := a.conn.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := a.conn.CreateAnswer()
	if err != nil {
		return err
	}
	a.answered = true
	s.send(a, signaling.AnswerMessage(answer))
	return nil
}

// makeOffer starts negotiation. Only the responder offers, once per attempt.
func (s *session) makeOffer(a *attempt) error {
	offer, err := a.conn.CreateOffer()
	if err != nil {
		return err
	}
	a.offered = true
	s.send(a, signaling.OfferMessage(offer))
	return nil
}

func (s *session) addCandidate(a *attempt, c json.RawMessage) {
	if err := a.conn.AddICECandidate(c); err != nil {
		s.log.Debug("ice candidate discarded", "call_id", a.callID, "err", err)
	}
}

func (s *session) notice(level NoticeLevel, msg string, err error) {
	if err != nil {
		s.log.Warn(msg, "err", err)
	}
	if s.deps.OnNotice != nil {
		s.deps.OnNotice(Notice{Level: level, Message: msg, Err: err})
	}
}

// close ends the session. fn runs on the loop first, for role-specific cleanup.
func (s *session) close(fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = s.loop.call(ctx, func() error {
		if fn != nil {
			fn()
		}
		s.teardown()
		return nil
	})
	s.cancel()
	s.loop.stop()
}
