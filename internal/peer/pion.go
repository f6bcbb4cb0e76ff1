package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"videokyc-platform/internal/media"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Config tunes the pion API shared by every connection a factory creates.
type Config struct {
	ICEServers []webrtc.ICEServer

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// IncludeLoopback gathers 127.0.0.1 candidates; DisableMDNS stops .local candidates.
	// Both are for same-host sessions such as tests.
	IncludeLoopback bool
	DisableMDNS     bool

	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	out := c
	if out.DisconnectedTimeout <= 0 {
		out.DisconnectedTimeout = 5 * time.Second
	}
	if out.FailedTimeout <= 0 {
		out.FailedTimeout = 25 * time.Second
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = 2 * time.Second
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}

// PionFactory creates pion-backed connections.
type PionFactory struct {
	api *webrtc.API
	cfg webrtc.Configuration
	log *slog.Logger
}

func NewPionFactory(c Config) (*PionFactory, error) {
	c = c.withDefaults()

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(c.DisconnectedTimeout, c.FailedTimeout, c.KeepAliveInterval)
	if c.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	if c.DisableMDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &PionFactory{
		api: api,
		cfg: webrtc.Configuration{ICEServers: c.ICEServers},
		log: c.Log,
	}, nil
}

func (f *PionFactory) Create(cb Callbacks) (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &pionConn{pc: pc, log: f.log, state: StateNew}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || cb.OnLocalCandidate == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.log.Warn("encode local candidate failed", "err", err)
			return
		}
		cb.OnLocalCandidate(raw)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		st := fromPion(s)
		c.mu.Lock()
		c.state = st
		c.mu.Unlock()
		if cb.OnStateChange != nil {
			cb.OnStateChange(st)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		info := RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
			MimeType: track.Codec().MimeType,
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.requestKeyframe(track)
		}
		go c.drain(track)
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(info)
		}
	})
	return c, nil
}

type pionConn struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu        sync.Mutex
	state     State
	closed    bool
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	stream    media.Stream

	packets atomic.Uint64
	bytes   atomic.Uint64
}

var errClosed = errors.New("peer: connection closed")

func (c *pionConn) AttachLocalMedia(stream media.Stream) error {
	if stream == nil {
		return errors.New("peer: nil stream")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	c.stream = stream
	c.mu.Unlock()

	for _, t := range stream.Tracks() {
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
		go drainRTCP(sender)
	}
	return nil
}

func (c *pionConn) CreateOffer() (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return json.Marshal(offer)
}

func (c *pionConn) CreateAnswer() (json.RawMessage, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return json.Marshal(answer)
}

func (c *pionConn) SetRemoteDescription(desc json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(desc, &sd); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Debug("queued candidate rejected", "err", err)
		}
	}
	return nil
}

func (c *pionConn) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	if !c.remoteSet {
		// Trickled candidates can overtake the offer; hold them until the description lands.
		c.pending = append(c.pending, init)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(init)
}

func (c *pionConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *pionConn) Stats() Stats {
	return Stats{PacketsReceived: c.packets.Load(), BytesReceived: c.bytes.Load()}
}

func (c *pionConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.pending = nil
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	return c.pc.Close()
}

func (c *pionConn) requestKeyframe(track *webrtc.TrackRemote) {
	err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		c.log.Debug("keyframe request failed", "err", err)
	}
}

// drain consumes remote RTP so interceptors keep running and counts what arrived.
func (c *pionConn) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		c.observe(pkt)
	}
}

func (c *pionConn) observe(pkt *rtp.Packet) {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(pkt.Payload)))
}

// drainRTCP reads incoming RTCP for a sender; without a reader interceptors stall.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func fromPion(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}
