package lecture

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/lectern/internal/shared/id"
)

// Event types published by a view
const (
	EventState      = "state"
	EventBlockError = "block_error"
	EventReady      = "ready"
	EventTornDown   = "torn_down"
)

// Event is a lifecycle notification for subscribers of a view
type Event struct {
	Type     string            `json:"type"`
	ViewID   id.ViewID         `json:"view_id"`
	State    State             `json:"state"`
	From     *State            `json:"from,omitempty"`
	Signal   *CompletionSignal `json:"signal,omitempty"`
	Teardown *TeardownResult   `json:"teardown,omitempty"`
	Error    *ErrorInfo        `json:"error,omitempty"`
	Block    *int              `json:"block,omitempty"`
	Time     time.Time         `json:"time"`
}

const (
	subscriberBuffer = 32
	// lifecycleReserve slots of each buffer are kept for state, ready and
	// torn_down events; block errors never fill them
	lifecycleReserve = 8
)

// Notifier fans events out to subscribers. Slow subscribers miss events
// rather than block the view, block errors first.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

// NewNotifier creates a notifier
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. The channel is closed when the notifier closes.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	key := n.next
	n.next++
	n.subs[key] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[key]; ok {
				delete(n.subs, key)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking
func (n *Notifier) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		if ev.Type == EventBlockError && len(ch) >= subscriberBuffer-lifecycleReserve {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for key, ch := range n.subs {
		close(ch)
		delete(n.subs, key)
	}
}
