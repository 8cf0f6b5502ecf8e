package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	// ZapLogger adapts *zap.SugaredLogger to the Logger interface.
	ZapLogger struct {
		sugar *zap.SugaredLogger
	}

	// OtelMetrics adapts an OTEL meter to the Metrics interface.
	OtelMetrics struct {
		meter metric.Meter
	}

	// OtelTracer adapts an OTEL tracer to the Tracer interface.
	OtelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewZapLogger wraps a configured *zap.Logger for orchestrator logging. The
// caller owns construction (zap.NewProduction()/zap.NewDevelopment()) so test
// binaries can swap in an observer core.
func NewZapLogger(l *zap.Logger) Logger {
	return &ZapLogger{sugar: l.Sugar()}
}

// NewOtelMetrics builds a Metrics recorder against the global OTEL
// MeterProvider under the given instrumentation scope name.
func NewOtelMetrics(scope string) Metrics {
	return &OtelMetrics{meter: otel.Meter(scope)}
}

// NewOtelTracer builds a Tracer against the global OTEL TracerProvider under
// the given instrumentation scope name.
func NewOtelTracer(scope string) Tracer {
	return &OtelTracer{tracer: otel.Tracer(scope)}
}

func (l *ZapLogger) Debug(_ context.Context, msg string, keyvals ...any) { l.sugar.Debugw(msg, keyvals...) }
func (l *ZapLogger) Info(_ context.Context, msg string, keyvals ...any)  { l.sugar.Infow(msg, keyvals...) }
func (l *ZapLogger) Warn(_ context.Context, msg string, keyvals ...any)  { l.sugar.Warnw(msg, keyvals...) }
func (l *ZapLogger) Error(_ context.Context, msg string, keyvals ...any) { l.sugar.Errorw(msg, keyvals...) }

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (t *OtelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}
func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		switch v := keyvals[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
