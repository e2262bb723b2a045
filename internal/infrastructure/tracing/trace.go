package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/lectern/internal/shared/id"
	"go.uber.org/zap"
)

// TraceID represents a unique trace identifier
type TraceID string

// SpanID represents a unique span identifier
type SpanID string

// Phase is a named point inside a span, as an offset from its start
type Phase struct {
	Name   string
	Offset time.Duration
}

// Span times one operation, such as an HTTP request or a lecture mount
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Service  string
	Start    time.Time

	mu     sync.Mutex
	end    time.Time
	fields []zap.Field
	phases []Phase
	err    error
	status int
}

// SetTag adds a string attribute
func (s *Span) SetTag(key, value string) {
	s.Annotate(zap.String(key, value))
}

// Annotate adds typed attributes
func (s *Span) Annotate(fields ...zap.Field) {
	s.mu.Lock()
	s.fields = append(s.fields, fields...)
	s.mu.Unlock()
}

// Mark records that the operation reached phase
func (s *Span) Mark(phase string) {
	s.mu.Lock()
	s.phases = append(s.phases, Phase{Name: phase, Offset: time.Since(s.Start)})
	s.mu.Unlock()
}

// Phases returns the recorded phases in order
func (s *Span) Phases() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.phases...)
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetStatus sets the HTTP status code
func (s *Span) SetStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// Duration is the span's length, or its age if it has not ended
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		return time.Since(s.Start)
	}
	return s.end.Sub(s.Start)
}

func (s *Span) finish() {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()
}

// logFields renders the span for the collector
func (s *Span) logFields() ([]zap.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make([]zap.Field, 0, 8+len(s.fields))
	fields = append(fields,
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.String("operation", s.Name),
		zap.String("service", s.Service),
		zap.Duration("duration", s.end.Sub(s.Start)),
	)
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	if s.status != 0 {
		fields = append(fields, zap.Int("status", s.status))
	}
	if len(s.phases) > 0 {
		marks := make([]zap.Field, len(s.phases))
		for i, p := range s.phases {
			marks[i] = zap.Duration(p.Name, p.Offset)
		}
		fields = append(fields, zap.Dict("phases", marks...))
	}
	fields = append(fields, s.fields...)
	return fields, s.err
}

// Tracer hands finished spans to a collector goroutine that logs them
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// New creates a new tracer and starts its collector
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1000),
		done:    make(chan struct{}),
	}

	go t.collect()

	return t
}

// StartSpan creates a span that is a child of any span already in ctx and
// returns a context carrying it
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewSpanID()),
		ParentID: GetSpanID(ctx),
		Name:     name,
		Service:  t.service,
		Start:    time.Now(),
	}

	return span, context.WithValue(ctx, spanKey, span)
}

// End finishes the span and submits it
func (t *Tracer) End(span *Span) {
	span.finish()
	t.Submit(span)
}

// Submit sends a span to the collector. Spans submitted after Close are dropped.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name),
		)
	}
}

// Close stops the collector after flushing buffered spans
func (t *Tracer) Close() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.spans)
		t.mu.Unlock()
		<-t.done
	})
}

func (t *Tracer) collect() {
	defer close(t.done)
	for span := range t.spans {
		fields, err := span.logFields()
		if err != nil {
			t.logger.Warn("span completed with error", append(fields, zap.Error(err))...)
			continue
		}
		t.logger.Debug("span completed", fields...)
	}
}

type contextKey int

const (
	spanKey contextKey = iota
	remoteKey
)

// remote is trace context received from a client
type remote struct {
	traceID TraceID
	spanID  SpanID
}

// WithTrace seeds ctx with trace context received from a client
func WithTrace(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	if traceID == "" && spanID == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteKey, remote{traceID: traceID, spanID: spanID})
}

// FromContext returns the innermost span in ctx, or nil
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey).(*Span)
	return span
}

// Mark records phase on the span in ctx, if any
func Mark(ctx context.Context, phase string) {
	if span := FromContext(ctx); span != nil {
		span.Mark(phase)
	}
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	if span := FromContext(ctx); span != nil {
		return span.TraceID
	}
	if r, ok := ctx.Value(remoteKey).(remote); ok {
		return r.traceID
	}
	return ""
}

// GetSpanID retrieves the current span ID from context
func GetSpanID(ctx context.Context) SpanID {
	if span := FromContext(ctx); span != nil {
		return span.SpanID
	}
	if r, ok := ctx.Value(remoteKey).(remote); ok {
		return r.spanID
	}
	return ""
}
