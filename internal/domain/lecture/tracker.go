package lecture

import (
	"sync"

	"github.com/GriffinCanCode/lectern/internal/providers/browser/sandbox"
	"go.uber.org/zap"
)

// Entry is one tracked resource
type Entry struct {
	Ref    sandbox.Handle `json:"ref"`
	Origin int            `json:"origin"`
	Source string         `json:"source,omitempty"`
	Event  string         `json:"event,omitempty"`
}

// Counts summarizes the tracked resources
type Counts struct {
	Timers          int `json:"timers"`
	Intervals       int `json:"intervals"`
	AnimationFrames int `json:"animation_frames"`
	Listeners       int `json:"listeners"`
}

// Total returns the number of tracked resources of every kind
func (c Counts) Total() int {
	return c.Timers + c.Intervals + c.AnimationFrames + c.Listeners
}

// Tracker records the resources embedded code creates so teardown can
// release them. Collections are append-only until drained; there is no way
// to remove a single entry. Once closed, registrations are refused.
type Tracker struct {
	mu       sync.Mutex
	entries  map[sandbox.Kind][]Entry
	closed   bool
	logger   *zap.Logger
	onRecord func(kind sandbox.Kind)
}

// NewTracker creates an open tracker
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		entries: make(map[sandbox.Kind][]Entry, 4),
		logger:  logger,
	}
}

// OnRecord sets a callback invoked for every accepted registration
func (t *Tracker) OnRecord(fn func(kind sandbox.Kind)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRecord = fn
}

// Record implements sandbox.Recorder. A zero handle is ignored. After Close
// the registration is refused and a warning is logged.
func (t *Tracker) Record(reg sandbox.Registration) bool {
	if reg.Ref == 0 {
		return false
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.logger.Warn("Resource registered after teardown, ignoring",
			zap.Stringer("kind", reg.Kind),
			zap.Int("origin", reg.Origin),
			zap.String("event", reg.Event))
		return false
	}
	t.entries[reg.Kind] = append(t.entries[reg.Kind], Entry{
		Ref:    reg.Ref,
		Origin: reg.Origin,
		Source: reg.Source,
		Event:  reg.Event,
	})
	onRecord := t.onRecord
	t.mu.Unlock()

	if onRecord != nil {
		onRecord(reg.Kind)
	}
	return true
}

// Drain removes and returns every entry of kind in registration order
func (t *Tracker) Drain(kind sandbox.Kind) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	drained := t.entries[kind]
	delete(t.entries, kind)
	return drained
}

// Counts returns the number of tracked entries per kind
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{
		Timers:          len(t.entries[sandbox.KindTimer]),
		Intervals:       len(t.entries[sandbox.KindInterval]),
		AnimationFrames: len(t.entries[sandbox.KindAnimationFrame]),
		Listeners:       len(t.entries[sandbox.KindListener]),
	}
}

// Close refuses further registrations
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Closed reports whether Close has been called
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Reset empties every collection
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
}
