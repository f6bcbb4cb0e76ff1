package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
)

// loop runs queued events one at a time on a single goroutine.
// The queue is unbounded so transport callbacks never block on orchestration.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	l := &loop{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go l.run()
	return l
}

// post enqueues fn. It reports false once the loop has stopped.
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Claim states of a queued call.
const (
	callQueued int32 = iota
	callRunning
	callAbandoned
)

// call runs fn on the loop and waits for its result. Never call it from the loop itself.
//
// If ctx ends while fn is still queued, fn is dropped and ctx.Err() is returned.
// Once fn has started, call waits for it, so a reported failure never leaves work running behind it.
func (l *loop) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var claim atomic.Int32
	res := make(chan error, 1)
	queued := l.post(func() {
		if !claim.CompareAndSwap(callQueued, callRunning) {
			return
		}
		if err := ctx.Err(); err != nil {
			res <- err
			return
		}
		res <- fn()
	})
	if !queued {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		if claim.CompareAndSwap(callQueued, callAbandoned) {
			return ctx.Err()
		}
		select {
		case err := <-res:
			return err
		case <-l.done:
			return ErrClosed
		}
	}
}

func (l *loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.queue = nil
	close(l.done)
}

func (l *loop) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if l.stopped || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			fn()
		}
	}
}
