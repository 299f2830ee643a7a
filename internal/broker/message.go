package broker

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	apperrors "crmflow/pkg/errors"
	"crmflow/pkg/logging"
	"crmflow/pkg/models"
	"crmflow/pkg/tracing"
)

// Decode parses the envelope of msg. Failures are malformed-payload errors,
// which consumers acknowledge instead of retrying.
func Decode(msg Message) (models.StreamEvent, error) {
	if len(msg.Payload) == 0 {
		return models.StreamEvent{}, apperrors.ErrMalformedPayload.WithDetail("message", "entry has no payload field")
	}
	ev, err := models.DecodeStreamEvent(msg.Payload)
	if err != nil {
		return models.StreamEvent{}, apperrors.ErrMalformedPayload.WithCause(err)
	}
	return ev, nil
}

// MessageContext tags ctx with the message identity for logging and starts
// the consumer span. The caller ends the span.
func MessageContext(ctx context.Context, msg Message, ev models.StreamEvent) (context.Context, trace.Span) {
	ctx, span := tracing.StartConsumerSpan(ctx, msg.Stream, msg.ID, ev.Trace)
	ctx = logging.WithMessageID(ctx, msg.ID)
	ctx = logging.WithStream(ctx, msg.Stream)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	return ctx, span
}

// Safe runs fn and converts a panic into a fatal error.
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
		}
	}()
	return fn()
}
