package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by session and step spans.
const (
	AttrSessionID = attribute.Key("forms.session.id")
	AttrFormID    = attribute.Key("forms.form.id")
	AttrStep      = attribute.Key("forms.step")
	AttrInputName = attribute.Key("forms.input.name")
	AttrOutcome   = attribute.Key("forms.session.outcome")
)

// StartSessionSpan starts the root span covering one form journey.
func StartSessionSpan(ctx context.Context, tracer trace.Tracer, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "form session",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrSessionID.String(sessionID)),
	)
}

// StartStepSpan starts a client span for one request in a journey. name is the
// request label, e.g. "form 71 question 2".
func StartStepSpan(ctx context.Context, tracer trace.Tracer, name, formID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrFormID.String(formID),
			AttrStep.String(name),
		),
	)
}

// EndSpan finishes span, recording err when non-nil.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders writes W3C trace context from ctx into headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
