package sandbox

import (
	"time"

	"go.uber.org/zap"
)

// Kind classifies a host resource created by content code
type Kind int

const (
	KindTimer Kind = iota
	KindInterval
	KindAnimationFrame
	KindListener
)

func (k Kind) String() string {
	switch k {
	case KindTimer:
		return "timer"
	case KindInterval:
		return "interval"
	case KindAnimationFrame:
		return "animation_frame"
	case KindListener:
		return "listener"
	default:
		return "unknown"
	}
}

// Handle identifies a host resource. Zero is never a valid handle.
type Handle uint64

// Registration describes a resource about to be armed
type Registration struct {
	Kind   Kind
	Ref    Handle
	Origin int    // index of the code block that created it
	Source string // listener target, empty for scheduled resources
	Event  string // listener event type
}

// Recorder observes resource creation. A false return vetoes the resource:
// it is not armed and script receives handle 0.
type Recorder interface {
	Record(reg Registration) bool
}

// Block is one unit of code handed to the runtime
type Block struct {
	Index  int    // position in document order
	Name   string // script name used in stack traces
	Source string
}

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // per block and per callback execution limit
	ConsoleLimit  int           // retained console entries, 0 = unlimited
	LegacyMirrors bool          // publish window.timeoutsRef and window.intervalsRef
	FrameInterval time.Duration // animation frame cadence
	ContentID     string        // exposed to script as lecture.contentId
}

// Bindings connect a runtime to its owner
type Bindings struct {
	Recorder Recorder
	// OnCleanup receives the hook registered by lecture.onCleanup(fn)
	OnCleanup func(hook func() error)
	// OnError is notified of errors thrown by callbacks outside block execution
	OnError func(origin int, err error)
	Logger  *zap.Logger
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Block   int       `json:"block"`
	Time    time.Time `json:"time"`
}

// Event targets addressable without a selector
const (
	TargetWindow   = "window"
	TargetDocument = "document"
)

// DefaultConfig returns sandbox defaults
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		ConsoleLimit:  500,
		LegacyMirrors: true,
		FrameInterval: 16 * time.Millisecond,
	}
}
