package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for every span this module starts.
const TracerName = "github.com/shaharia-lab/ragchat"

// StartSpan starts a new span with the given name and options.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).TracerProvider().
		Tracer(TracerName).
		Start(ctx, name, opts...)
}
