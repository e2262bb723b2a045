package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures when the breaker trips and how it recovers
type Settings struct {
	// Threshold trips the breaker after this many consecutive failures
	Threshold uint32
	// MinRequests and FailureRatio trip the breaker once a window has seen
	// at least MinRequests calls and the failure share exceeds the ratio.
	// A zero MinRequests disables the ratio check.
	MinRequests  uint32
	FailureRatio float64
	// Window is how long the closed state accumulates counts before reset
	Window time.Duration
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// Probes is the number of trial calls allowed while half-open; that many
	// consecutive successes close the breaker again
	Probes uint32
	// IsFailure decides whether an error counts against the backend.
	// Client-side outcomes such as 403 or 404 are answers, not outages.
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
	// Clock overrides time.Now in tests
	Clock func() time.Time
}

// Counts holds the statistics of the current window
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker stops calls to a failing backend until it has had time to recover
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	deadline time.Time // window reset while closed, probe time while open
	epoch    uint64
}

// New creates a breaker, filling zero settings with defaults
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Window <= 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = time.Minute
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}

	b := &Breaker{name: name, settings: settings}
	b.reset(settings.Clock())
	return b
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving an expired open breaker to half-open
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.settings.Clock())
	return b.state
}

// Counts returns a copy of the current window's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Execute runs fn if the breaker admits it and records the outcome. A panic
// in fn counts as a failure and is re-raised.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	epoch, err := b.admit()
	if err != nil {
		return zero, err
	}

	defer func() {
		if e := recover(); e != nil {
			b.record(epoch, false)
			panic(e)
		}
	}()

	result, err := fn()
	b.record(epoch, !b.settings.IsFailure(err))
	return result, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.settings.Clock())
	switch {
	case b.state == StateOpen:
		return b.epoch, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.Probes:
		return b.epoch, ErrTooManyRequests
	}

	b.counts.Requests++
	return b.epoch, nil
}

// record applies an outcome unless the breaker moved to a new epoch while
// the call was in flight
func (b *Breaker) record(epoch uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Clock()
	b.advance(now)
	if epoch != b.epoch {
		return
	}

	if ok {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	if b.state == StateHalfOpen || b.tripped() {
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) tripped() bool {
	c := b.counts
	if c.ConsecutiveFailures >= b.settings.Threshold {
		return true
	}
	if b.settings.MinRequests == 0 || c.Requests < b.settings.MinRequests {
		return false
	}
	return float64(c.TotalFailures)/float64(c.Requests) > b.settings.FailureRatio
}

func (b *Breaker) advance(now time.Time) {
	if b.deadline.IsZero() || now.Before(b.deadline) {
		return
	}
	switch b.state {
	case StateClosed:
		b.reset(now)
	case StateOpen:
		b.transition(StateHalfOpen, now)
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.reset(now)

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

// reset starts a new epoch with empty counts
func (b *Breaker) reset(now time.Time) {
	b.epoch++
	b.counts = Counts{}

	switch b.state {
	case StateClosed:
		b.deadline = now.Add(b.settings.Window)
	case StateOpen:
		b.deadline = now.Add(b.settings.Cooldown)
	default:
		b.deadline = time.Time{}
	}
}
