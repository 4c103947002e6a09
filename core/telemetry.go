package core

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span is the minimal span contract components depend on, decoupling them
// from the otel SDK types directly (mirrors core.Span in the teacher).
type Span interface {
	SetAttribute(key string, value interface{})
	RecordError(err error)
	End()
}

// Telemetry is the metrics+tracing contract. A NoOpTelemetry satisfies it
// so components work without an otel provider configured.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, tags map[string]string)
}

// NoOpTelemetry discards everything.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, interface{}) {}
func (noopSpan) RecordError(error)                {}
func (noopSpan) End()                             {}

// OTelTelemetry adapts the opentelemetry-go SDK to the Telemetry interface.
// Every engine/transport/registry operation that starts a span or records a
// counter goes through this adapter rather than importing otel directly,
// keeping the SDK dependency confined to one file.
type OTelTelemetry struct {
	tracer  trace.Tracer
	meter   metric.Meter
	name    string
	floats  map[string]metric.Float64Counter
}

// NewOTelTelemetry builds a Telemetry backed by the global otel providers,
// registered under the given instrumentation name.
func NewOTelTelemetry(name string) *OTelTelemetry {
	return &OTelTelemetry{
		tracer: otel.Tracer(name),
		meter:  otel.Meter(name),
		name:   name,
		floats: make(map[string]metric.Float64Counter),
	}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(value)))
	}
}

func (s otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s otelSpan) End() { s.span.End() }

func (t *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

func (t *OTelTelemetry) RecordMetric(name string, value float64, tags map[string]string) {
	counter, ok := t.floats[name]
	if !ok {
		var err error
		counter, err = t.meter.Float64Counter(name)
		if err != nil {
			return
		}
		t.floats[name] = counter
	}
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
