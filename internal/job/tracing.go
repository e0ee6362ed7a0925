package job

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/JakeFAU/leadstream/internal/job"

// The global meter delegates to whichever provider is installed first.
var leadCounter = newLeadCounter()

func newLeadCounter() metric.Int64Counter {
	c, err := otel.Meter(instrumentationName).Int64Counter(
		"leadstream.job.leads",
		metric.WithDescription("Verified leads produced by finished jobs."),
		metric.WithUnit("{lead}"),
	)
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
