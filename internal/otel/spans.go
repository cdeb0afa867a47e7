package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for gateway spans.
var (
	AttrNodeID      = attribute.Key("beacon_gateway.node.id")
	AttrCommand     = attribute.Key("beacon_gateway.command")
	AttrChannel     = attribute.Key("beacon_gateway.channel")
	AttrEntityID    = attribute.Key("beacon_gateway.entity.id")
	AttrFeatureKey  = attribute.Key("beacon_gateway.feature.key")
	AttrMeterKey    = attribute.Key("beacon_gateway.meter.key")
	AttrCorrelation = attribute.Key("beacon_gateway.correlation.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (node invoke, admin API).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (Aether billing, JWKS fetch, Telegram API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
