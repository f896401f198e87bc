package queue

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "qms/place-queue/queue"

var tracer = otel.Tracer(instrumentationName)

type instruments struct {
	booked      metric.Int64Counter
	transitions metric.Int64Counter
	conflicts   metric.Int64Counter
}

// newInstruments binds counters to the global meter provider. The API hands
// back no-op instruments on error so the results are always usable.
func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	booked, _ := meter.Int64Counter("queue.tickets.booked",
		metric.WithDescription("Tickets booked"),
		metric.WithUnit("{ticket}"))
	transitions, _ := meter.Int64Counter("queue.transitions",
		metric.WithDescription("Ticket status changes by action"),
		metric.WithUnit("{transition}"))
	conflicts, _ := meter.Int64Counter("queue.conflicts",
		metric.WithDescription("Writes retried after a concurrent update"),
		metric.WithUnit("{conflict}"))
	return &instruments{booked: booked, transitions: transitions, conflicts: conflicts}
}

func actionAttr(action string) metric.AddOption {
	return metric.WithAttributes(attribute.String("action", action))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
