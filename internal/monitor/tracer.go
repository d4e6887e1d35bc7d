package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "repo-sentinel"

// Tracer wraps OpenTelemetry tracing for the analyzer.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("sentinel.%s", name),
		trace.WithAttributes(attrs...),
	)
	return ctx, span
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for analysis tracing.
var (
	AttrJobID     = attribute.Key("sentinel.job.id")
	AttrCategory  = attribute.Key("sentinel.category")
	AttrStage     = attribute.Key("sentinel.stage")
	AttrRiskScore = attribute.Key("sentinel.risk_score")
	AttrRiskLevel = attribute.Key("sentinel.risk_level")
)
