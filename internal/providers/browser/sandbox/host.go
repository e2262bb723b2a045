package sandbox

import (
	"sync"
	"time"
)

// minInterval keeps zero-delay intervals from spinning the loop
const minInterval = 4 * time.Millisecond

// Host owns the timers, intervals, animation frames and event listeners a
// runtime exposes to content. Every resource is offered to the Recorder
// before it is armed. Callbacks always run on the loop.
type Host struct {
	loop  *Loop
	rec   Recorder
	frame time.Duration
	epoch time.Time

	mu        sync.Mutex
	next      Handle
	scheduled map[Handle]*scheduled
	listeners map[listenerKey][]*listener
	closed    bool
}

type scheduled struct {
	kind  Kind
	delay time.Duration
	timer *time.Timer
	fn    func()
}

type listenerKey struct {
	source string
	event  string
}

type listener struct {
	ref Handle
	key any // identity of the script handler
	fn  func(payload any)
}

// NewHost creates a host scheduling callbacks onto loop
func NewHost(loop *Loop, rec Recorder, frame time.Duration) *Host {
	if frame <= 0 {
		frame = 16 * time.Millisecond
	}
	return &Host{
		loop:      loop,
		rec:       rec,
		frame:     frame,
		epoch:     time.Now(),
		scheduled: make(map[Handle]*scheduled),
		listeners: make(map[listenerKey][]*listener),
	}
}

// Now returns milliseconds since the host was created
func (h *Host) Now() float64 {
	return float64(time.Since(h.epoch).Microseconds()) / 1000
}

// SetTimeout runs fn once after d
func (h *Host) SetTimeout(origin int, d time.Duration, fn func()) Handle {
	return h.schedule(KindTimer, origin, max(d, 0), fn)
}

// SetInterval runs fn every d until cancelled
func (h *Host) SetInterval(origin int, d time.Duration, fn func()) Handle {
	return h.schedule(KindInterval, origin, max(d, minInterval), fn)
}

// RequestFrame runs fn with a frame timestamp on the next frame
func (h *Host) RequestFrame(origin int, fn func(ts float64)) Handle {
	return h.schedule(KindAnimationFrame, origin, h.frame, func() { fn(h.Now()) })
}

func (h *Host) schedule(kind Kind, origin int, d time.Duration, fn func()) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}
	h.next++
	ref := h.next
	// recording and arming happen under one lock so a concurrent release
	// always finds the armed resource
	if h.rec != nil && !h.rec.Record(Registration{Kind: kind, Ref: ref, Origin: origin}) {
		return 0
	}

	s := &scheduled{kind: kind, delay: d, fn: fn}
	s.timer = time.AfterFunc(d, func() { h.fire(ref) })
	h.scheduled[ref] = s
	return ref
}

func (h *Host) fire(ref Handle) {
	h.loop.Submit(func() { h.run(ref) })
}

func (h *Host) run(ref Handle) {
	h.mu.Lock()
	s, ok := h.scheduled[ref]
	if ok && s.kind != KindInterval {
		delete(h.scheduled, ref)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	s.fn()

	if s.kind == KindInterval {
		h.mu.Lock()
		if cur, ok := h.scheduled[ref]; ok && cur == s {
			s.timer = time.AfterFunc(s.delay, func() { h.fire(ref) })
		}
		h.mu.Unlock()
	}
}

// Cancel stops a timer, interval or animation frame. Unknown or already
// completed handles are ignored.
func (h *Host) Cancel(ref Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.scheduled[ref]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(h.scheduled, ref)
	return true
}

// AddListener subscribes fn to event on source. key identifies the script
// handler; adding the same key twice returns the existing handle.
func (h *Host) AddListener(origin int, source, event string, key any, fn func(payload any)) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}
	lk := listenerKey{source, event}
	for _, l := range h.listeners[lk] {
		if l.key == key {
			return l.ref
		}
	}

	h.next++
	ref := h.next
	if h.rec != nil && !h.rec.Record(Registration{
		Kind: KindListener, Ref: ref, Origin: origin, Source: source, Event: event,
	}) {
		return 0
	}

	h.listeners[lk] = append(h.listeners[lk], &listener{ref: ref, key: key, fn: fn})
	return ref
}

// RemoveListener unsubscribes the handler identified by key and returns its
// handle, or 0 if it was not subscribed
func (h *Host) RemoveListener(source, event string, key any) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	lk := listenerKey{source, event}
	for _, l := range h.listeners[lk] {
		if l.key == key {
			h.removeLocked(lk, l.ref)
			return l.ref
		}
	}
	return 0
}

// Release unsubscribes the listener registered as {source, event, ref}
func (h *Host) Release(source, event string, ref Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(listenerKey{source, event}, ref)
}

func (h *Host) removeLocked(lk listenerKey, ref Handle) bool {
	list := h.listeners[lk]
	for i, l := range list {
		if l.ref == ref {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(h.listeners, lk)
			} else {
				h.listeners[lk] = list
			}
			return true
		}
	}
	return false
}

// Dispatch invokes the listeners for event on source and returns how many
// ran. Listeners removed by an earlier handler are skipped. Must be called on
// the loop.
func (h *Host) Dispatch(source, event string, payload any) int {
	lk := listenerKey{source, event}

	h.mu.Lock()
	snapshot := append([]*listener(nil), h.listeners[lk]...)
	h.mu.Unlock()

	n := 0
	for _, l := range snapshot {
		if !h.subscribed(lk, l) {
			continue
		}
		l.fn(payload)
		n++
	}
	return n
}

func (h *Host) subscribed(lk listenerKey, target *listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners[lk] {
		if l == target {
			return true
		}
	}
	return false
}

// Pending returns the number of armed scheduled resources and subscribed
// listeners
func (h *Host) Pending() (scheduled, listeners int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, list := range h.listeners {
		listeners += len(list)
	}
	return len(h.scheduled), listeners
}

// Close stops everything still armed and refuses new resources
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for ref, s := range h.scheduled {
		s.timer.Stop()
		delete(h.scheduled, ref)
	}
	clear(h.listeners)
}
