// Package id provides ULID generation for lecture views and request tracing.
//
// IDs are prefixed by type so logs stay readable:
//   - view_*: one mounted lecture view
//   - req_*:  an inbound API request
//   - span_*: a tracing span
//
// Entropy is monotonic, so ids from one generator sort by creation order
// even within the same millisecond.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ViewID identifies a mounted lecture view
type ViewID string

// RequestID identifies an API request
type RequestID string

// SpanID identifies a tracing span
type SpanID string

const (
	ViewPrefix    = "view"
	RequestPrefix = "req"
	SpanPrefix    = "span"
)

// Generator generates prefixed ULIDs
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator over the given entropy source. Tests
// pass a fixed reader for deterministic ids.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(entropy, 0),
		now:     time.Now,
	}
}

// New creates a "prefix_ulid" string
func (g *Generator) New(prefix string) string {
	g.mu.Lock()
	u := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	return prefix + "_" + u.String()
}

// NewViewID generates a new lecture view ID
func NewViewID() ViewID {
	return ViewID(Default().New(ViewPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().New(RequestPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().New(SpanPrefix))
}

func (id ViewID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id SpanID) String() string    { return string(id) }

// MountedAt is the creation time encoded in the view id
func (id ViewID) MountedAt() time.Time {
	u, err := split(string(id), ViewPrefix)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}

// ParseViewID validates a view id received from a client
func ParseViewID(s string) (ViewID, error) {
	if _, err := split(s, ViewPrefix); err != nil {
		return "", fmt.Errorf("invalid view id %q: %w", s, err)
	}
	return ViewID(s), nil
}

func split(s, prefix string) (ulid.ULID, error) {
	rest, ok := strings.CutPrefix(s, prefix+"_")
	if !ok {
		return ulid.ULID{}, fmt.Errorf("missing %q prefix", prefix)
	}
	return ulid.ParseStrict(rest)
}
