// Package telemetry defines the operational logging, metrics and tracing
// capabilities the engine is constructed with. Implementations typically
// delegate to Clue and OpenTelemetry but the interfaces are intentionally
// small so tests can provide lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured operational logging used throughout the engine.
// Domain events (node lifecycle, previews) travel over the execution log bus
// instead; this logger carries engine internals and bridged bus entries.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for engine instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code can remain agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric names recorded by the engine.
const (
	// MetricExecutionsStarted counts submitted executions.
	MetricExecutionsStarted = "nervemind.executions.started"
	// MetricExecutionsCompleted counts terminal executions, tagged by status.
	MetricExecutionsCompleted = "nervemind.executions.completed"
	// MetricNodeDuration times individual node execute calls, tagged by node
	// type and status.
	MetricNodeDuration = "nervemind.node.duration"
	// MetricNodeRetries counts retry re-attempts.
	MetricNodeRetries = "nervemind.node.retries"
	// MetricRateLimitWaits counts rate-limit bucket waits.
	MetricRateLimitWaits = "nervemind.ratelimit.waits"
	// MetricActiveExecutions gauges the number of in-flight executions.
	MetricActiveExecutions = "nervemind.executions.active"
)
