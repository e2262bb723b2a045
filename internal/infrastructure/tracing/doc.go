// Package tracing provides lightweight span tracing backed by zap.
//
// Spans are started for every HTTP request and for each lecture phase
// (mount, load, execute, teardown), so one learner action can be followed
// from the request log line down to the block that misbehaved. Trace context
// travels in X-Trace-ID / X-Span-ID headers and in context.Context.
package tracing
