package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrPermissionDenied means the user (or the platform) refused camera or microphone access.
var ErrPermissionDenied = errors.New("media: permission denied")

// Stream is a local audio+video capture attached to a peer connection.
type Stream interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	// Stop releases the capture. Idempotent.
	Stop()
}

// Source acquires local media. Acquire is the only step that can block on the user.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// SampleSource produces streams backed by pion static sample tracks (opus audio, VP8 video).
// A feeder writes encoded frames through the returned *SampleStream.
type SampleSource struct {
	// Deny makes Acquire fail with ErrPermissionDenied.
	Deny bool
}

func (s SampleSource) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Deny {
		return nil, ErrPermissionDenied
	}
	return NewSampleStream()
}

// SampleStream is a Stream whose frames are supplied by the caller.
type SampleStream struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	stopped      bool
}

func NewSampleStream() (*SampleStream, error) {
	streamID := "kyc-" + uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID)
	if err != nil {
		return nil, err
	}
	return &SampleStream{audio: audio, video: video, audioEnabled: true, videoEnabled: true}, nil
}

func (s *SampleStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

func (s *SampleStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

func (s *SampleStream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoEnabled = enabled
	s.mu.Unlock()
}

func (s *SampleStream) Enabled() (audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled && !s.stopped, s.videoEnabled && !s.stopped
}

func (s *SampleStream) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// WriteAudio sends one encoded opus frame. Frames are dropped while muted or stopped.
func (s *SampleStream) WriteAudio(data []byte, d time.Duration) error {
	if on, _ := s.Enabled(); !on {
		return nil
	}
	return s.audio.WriteSample(pionmedia.Sample{Data: data, Duration: d})
}

// WriteVideo sends one encoded VP8 frame. Frames are dropped while the camera is off or stopped.
func (s *SampleStream) WriteVideo(data []byte, d time.Duration) error {
	if _, on := s.Enabled(); !on {
		return nil
	}
	return s.video.WriteSample(pionmedia.Sample{Data: data, Duration: d})
}
