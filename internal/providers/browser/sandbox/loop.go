package sandbox

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopClosed is returned when work is submitted to a closed loop
var ErrLoopClosed = errors.New("sandbox loop closed")

// Loop serializes all access to a VM on one goroutine. Jobs run in
// submission order; the queue is unbounded so timer callbacks never block.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	closed bool
	once   sync.Once
}

// NewLoop starts a loop goroutine
func NewLoop() *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 || l.closed {
				l.mu.Unlock()
				break
			}
			job := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			job()
		}
	}
}

// Submit enqueues fn. It reports false if the loop is closed.
func (l *Loop) Submit(fn func()) bool {
	l.mu.Lock()
	if l.closed {
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

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// closed while queued
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Close stops the loop after the running job. Queued jobs are discarded.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.quit)
	})
	<-l.done
}

// Closed reports whether Close has been called
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
