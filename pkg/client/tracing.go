package client

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSessionSpan opens the span covering one session attempt. The tracer
// comes from the global provider, so spans are no-ops until the application
// installs one with otel.SetTracerProvider.
func startSessionSpan(ctx context.Context, cfg *Config, clientID, sessionID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("pubsub.session_id", sessionID),
		attribute.String("url.full", cfg.URL),
	}
	if clientID != "" {
		attrs = append(attrs, attribute.String("pubsub.client_id", clientID))
	}
	return otel.Tracer(cfg.tracerName()).Start(ctx, "pubsub.session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// stateEvent records a lifecycle transition on the span in ctx.
func stateEvent(ctx context.Context, st State) {
	trace.SpanFromContext(ctx).AddEvent("state."+st.String())
}

// endSessionSpan records how the session ended and closes the span.
func endSessionSpan(span trace.Span, final State, err error) {
	span.SetAttributes(attribute.String("pubsub.final_state", final.String()))

	var te *TransportError
	switch {
	case errors.As(err, &te):
		span.SetAttributes(
			attribute.String("pubsub.failed_stage", te.Stage.String()),
			attribute.Int("pubsub.error_code", te.Code),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case err != nil:
		span.SetAttributes(attribute.String("pubsub.close_reason", err.Error()))
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
