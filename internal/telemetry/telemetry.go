// Package telemetry defines the logging, metrics, and tracing seams used
// throughout the orchestrator. Every package that needs to observe itself
// takes these interfaces by dependency injection rather than reaching for a
// package-level singleton, mirroring agents/runtime/telemetry in the teacher
// repository (whose production binding is Clue+OTEL; this repository binds
// zap+OTEL instead, see DESIGN.md).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines. Implementations must be safe for
	// concurrent use. keyvals follows the k1, v1, k2, v2, ... convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. tags follow the k1, v1,
	// k2, v2, ... convention and become dimension labels.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans for planner/execution/concurrency operations.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of an OTEL span the orchestrator needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
