package lecture

import (
	"fmt"
	"sync"
)

// State is the execution state of one lecture view
type State int

const (
	StateIdle State = iota
	StateLoading
	StateInjected
	StateExecuting
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateInjected:
		return "injected"
	case StateExecuting:
		return "executing"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Loading may fall back to Idle when the load fails; any live state may be
// torn down
var transitions = map[State][]State{
	StateIdle:      {StateLoading, StateTornDown},
	StateLoading:   {StateInjected, StateIdle, StateTornDown},
	StateInjected:  {StateExecuting, StateTornDown},
	StateExecuting: {StateReady, StateTornDown},
	StateReady:     {StateTornDown},
	StateTornDown:  {},
}

// StateMachine guards State transitions
type StateMachine struct {
	mu       sync.Mutex
	current  State
	onChange func(from, to State)
}

// NewStateMachine starts in Idle. onChange may be nil.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{current: StateIdle, onChange: onChange}
}

// Current returns the current state
func (m *StateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to next or returns ErrInvalidTransition
func (m *StateMachine) Transition(next State) error {
	m.mu.Lock()
	from := m.current
	if !allowed(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.current = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
