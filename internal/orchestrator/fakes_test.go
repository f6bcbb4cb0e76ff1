package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/media"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"

	"github.com/pion/webrtc/v4"
)

// fakeFactory hands out fakeConns that "connect" once both descriptions are
// set and at least one remote candidate arrived.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) Create(cb peer.Callbacks) (peer.Connection, error) {
	c := &fakeConn{cb: cb, state: peer.StateNew}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeFactory) all() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeConn, len(f.conns))
	copy(out, f.conns)
	return out
}

type fakeConn struct {
	cb peer.Callbacks

	mu          sync.Mutex
	state       peer.State
	localSet    bool
	remoteSet   bool
	remoteCands int
	offers      int
	answers     int
	closed      bool
	stream      media.Stream
}

var errFakeClosed = errors.New("fake: closed")

func (c *fakeConn) AttachLocalMedia(s media.Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.stream = s
	return nil
}

func (c *fakeConn) CreateOffer() (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errFakeClosed
	}
	c.offers++
	c.localSet = true
	c.mu.Unlock()
	c.emitCandidates()
	return json.RawMessage(`{"type":"offer","sdp":"fake"}`), nil
}

func (c *fakeConn) CreateAnswer() (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed || !c.remoteSet {
		c.mu.Unlock()
		return nil, errors.New("fake: answer without offer")
	}
	c.answers++
	c.localSet = true
	c.mu.Unlock()
	c.emitCandidates()
	c.maybeConnect()
	return json.RawMessage(`{"type":"answer","sdp":"fake"}`), nil
}

func (c *fakeConn) SetRemoteDescription(desc json.RawMessage) error {
	var sd map[string]string
	if err := json.Unmarshal(desc, &sd); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errFakeClosed
	}
	c.remoteSet = true
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *fakeConn) AddICECandidate(json.RawMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errFakeClosed
	}
	c.remoteCands++
	c.mu.Unlock()
	c.maybeConnect()
	return nil
}

func (c *fakeConn) State() peer.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats pretends a second of media arrived once connected.
func (c *fakeConn) Stats() peer.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != peer.StateConnected {
		return peer.Stats{}
	}
	return peer.Stats{PacketsReceived: 50, BytesReceived: 6000}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = peer.StateClosed
	s := c.stream
	c.mu.Unlock()
	if s != nil {
		s.Stop()
	}
	return nil
}

func (c *fakeConn) counts() (offers, answers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers, c.answers
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) emitCandidates() {
	go func() {
		for i := 0; i < 2; i++ {
			if c.cb.OnLocalCandidate != nil {
				c.cb.OnLocalCandidate(json.RawMessage(fmt.Sprintf(`{"candidate":"fake %d"}`, i)))
			}
		}
	}()
}

func (c *fakeConn) maybeConnect() {
	c.mu.Lock()
	ready := !c.closed && c.localSet && c.remoteSet && c.remoteCands > 0 && c.state == peer.StateNew
	if ready {
		c.state = peer.StateConnected
	}
	c.mu.Unlock()
	if !ready || c.cb.OnStateChange == nil {
		return
	}
	go func() {
		c.cb.OnStateChange(peer.StateConnecting)
		c.cb.OnStateChange(peer.StateConnected)
		if c.cb.OnRemoteTrack != nil {
			c.cb.OnRemoteTrack(peer.RemoteTrack{ID: "video", Kind: "video", MimeType: webrtc.MimeTypeVP8})
		}
	}()
}

// fakeSource counts acquisitions and can refuse them.
type fakeSource struct {
	deny     bool
	acquired atomic.Int32
	mu       sync.Mutex
	streams  []*fakeStream
}

func (s *fakeSource) Acquire(ctx context.Context) (media.Stream, error) {
	s.acquired.Add(1)
	if s.deny {
		return nil, media.ErrPermissionDenied
	}
	st := &fakeStream{audio: true, video: true}
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

func (s *fakeSource) allStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		if !st.isStopped() {
			return false
		}
	}
	return true
}

type fakeStream struct {
	mu           sync.Mutex
	audio, video bool
	stopped      bool
}

func (s *fakeStream) Tracks() []webrtc.TrackLocal { return nil }
func (s *fakeStream) SetAudioEnabled(on bool) {
	s.mu.Lock()
	s.audio = on
	s.mu.Unlock()
}
func (s *fakeStream) SetVideoEnabled(on bool) {
	s.mu.Lock()
	s.video = on
	s.mu.Unlock()
}
func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
func (s *fakeStream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// droppingRelay loses outgoing signals chosen by drop.
type droppingRelay struct {
	signaling.Relay
	mu   sync.Mutex
	drop func(m signaling.Message, n int) bool
	seen map[signaling.MessageType]int
}

func (d *droppingRelay) Send(ctx context.Context, callID string, m signaling.Message) error {
	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[signaling.MessageType]int)
	}
	d.seen[m.Type]++
	n := d.seen[m.Type]
	d.mu.Unlock()
	if d.drop != nil && d.drop(m, n) {
		return nil
	}
	return d.Relay.Send(ctx, callID, m)
}

type fakeGate struct {
	allow bool
	held  atomic.Int32
}

func (g *fakeGate) Acquire(context.Context, string, string) (bool, error) {
	if !g.allow {
		return false, nil
	}
	g.held.Add(1)
	return true, nil
}

func (g *fakeGate) Release(context.Context, string, string) error {
	g.held.Add(-1)
	return nil
}

// recorder captures everything an orchestrator reports.
type recorder[S comparable] struct {
	states  chan S
	notices chan Notice
}

func newRecorder[S comparable]() *recorder[S] {
	return &recorder[S]{states: make(chan S, 256), notices: make(chan Notice, 64)}
}

func (r *recorder[S]) onState(s S)      { r.states <- s }
func (r *recorder[S]) onNotice(n Notice) { r.notices <- n }

// waitFor consumes states until want shows up.
func (r *recorder[S]) waitFor(t *testing.T, want S) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-r.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func (r *recorder[S]) waitNotice(t *testing.T, target error) Notice {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case n := <-r.notices:
			if target == nil || errors.Is(n.Err, target) {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for notice %v", target)
			return Notice{}
		}
	}
}

// world is one in-memory deployment: record store, feed, relay hub and kyc service.
type world struct {
	calls    *calls.Service
	hub      *signaling.Hub
	profiles *kyc.MemoryProfiles
	reviewer *kyc.Service
	// heartbeat overrides Deps.Heartbeat when set.
	heartbeat time.Duration
}

func newWorld() *world {
	svc := calls.NewService(calls.NewMemoryStore(), calls.NewMemoryFeed())
	profiles := kyc.NewMemoryProfiles(kyc.Profile{ID: "user-1", Email: "u1@example.com", KYCStatus: kyc.StatusPending})
	return &world{
		calls:    svc,
		hub:      signaling.NewHub(),
		profiles: profiles,
		reviewer: kyc.NewService(svc, profiles, nil, nil, 0),
	}
}

type party struct {
	peers *fakeFactory
	media *fakeSource
	relay signaling.Relay
}

func (w *world) deps(p *party, timeout time.Duration) Deps {
	if p.peers == nil {
		p.peers = &fakeFactory{}
	}
	if p.media == nil {
		p.media = &fakeSource{}
	}
	if p.relay == nil {
		p.relay = w.hub.NewClient()
	}
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return Deps{
		Records:            w.calls,
		Relay:              p.relay,
		Peers:              p.peers,
		Media:              p.media,
		NegotiationTimeout: timeout,
		Heartbeat:          w.heartbeat,
		Log:                logger.Discard(),
	}
}

func (w *world) requester(t *testing.T, p *party, timeout time.Duration) (*Requester, *recorder[RequesterState]) {
	t.Helper()
	rec := newRecorder[RequesterState]()
	d := w.deps(p, timeout)
	d.OnNotice = rec.onNotice
	r, err := NewRequester(RequesterConfig{Deps: d, UserID: "user-1", OnState: rec.onState})
	if err != nil {
		t.Fatalf("requester: %v", err)
	}
	t.Cleanup(r.Close)
	return r, rec
}

func (w *world) responder(t *testing.T, p *party, timeout time.Duration, gate Gate) (*Responder, *recorder[ResponderState]) {
	t.Helper()
	rec := newRecorder[ResponderState]()
	d := w.deps(p, timeout)
	d.OnNotice = rec.onNotice
	r, err := NewResponder(ResponderConfig{Deps: d, UserID: "admin-1", Role: "admin", Reviewer: w.reviewer, Gate: gate, OnState: rec.onState})
	if err != nil {
		t.Fatalf("responder: %v", err)
	}
	t.Cleanup(r.Close)
	return r, rec
}

func waitRecord(t *testing.T, svc *calls.Service, id string, want calls.Status) calls.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		r, err := svc.Get(context.Background(), id)
		if err == nil && r.Status == want {
			return r
		}
		if time.Now().After(deadline) {
			t.Fatalf("record %s: expected %s, got %s (err %v)", id, want, r.Status, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
