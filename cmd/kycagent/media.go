package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"videokyc-platform/internal/media"
)

// opusSilence is a single 20ms opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameInterval = 20 * time.Millisecond

// silentSource hands out sample streams that keep an audio track alive with silence,
// so the remote side sees RTP flowing from a headless participant.
type silentSource struct {
	inner media.SampleSource
}

func (s silentSource) Acquire(ctx context.Context) (media.Stream, error) {
	st, err := s.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ss, ok := st.(*media.SampleStream)
	if !ok {
		st.Stop()
		return nil, errors.New("unexpected stream type")
	}
	f := &feedingStream{SampleStream: ss, done: make(chan struct{})}
	go f.feed()
	return f, nil
}

type feedingStream struct {
	*media.SampleStream
	done chan struct{}
	once sync.Once
}

func (f *feedingStream) feed() {
	t := time.NewTicker(frameInterval)
	defer t.Stop()
	for {
		select {
		case <-f.done:
			return
		case <-t.C:
			_ = f.WriteAudio(opusSilence, frameInterval)
		}
	}
}

func (f *feedingStream) Stop() {
	f.once.Do(func() { close(f.done) })
	f.SampleStream.Stop()
}
