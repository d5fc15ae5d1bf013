// Package tracing wraps the bare go.opentelemetry.io/otel API around the
// two operations worth tracing end to end: authoring a patch
// (patchmaker.buildPatch) and reconstructing an archive
// (graph.VersionNode.Materialize). Wiring a real exporter is left to the
// embedding process; with none configured, otel's default no-op tracer
// makes every StartSpan/StopSpan pair a cheap no-op.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName identifies this process's spans to whatever tracer
// provider the embedder has registered with otel.SetTracerProvider.
const ServiceName = "patchmaker"

// StartSpan starts a child span in ctx, reusing the parent's tracer
// provider when one is already present so nested spans land in the same
// trace.
func StartSpan(ctx context.Context, opName string, opts ...trace.SpanStartOption) (trace.Span, context.Context) {
	parentSpan := trace.SpanFromContext(ctx)
	var tracer trace.Tracer
	if parentSpan.SpanContext().IsValid() {
		tracer = parentSpan.TracerProvider().Tracer("")
	} else {
		tracer = otel.Tracer(ServiceName)
	}
	ctx, span := tracer.Start(ctx, opName, opts...)
	return span, ctx
}

// StopSpan ends the span returned by StartSpan.
func StopSpan(span trace.Span) {
	span.End()
}
