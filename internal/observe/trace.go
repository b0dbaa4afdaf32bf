package observe

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxstitch"

// Tracer returns the voxstitch tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it, usually through
// [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type logAttrsKey struct{}

// WithLogAttrs returns a copy of ctx whose [Logger] adds args to every
// record, on top of attributes added by enclosing contexts. Use it for
// request-scoped identifiers such as a stream ID, so that code further down
// the call chain logs them without being handed a logger.
func WithLogAttrs(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(logAttrsKey{}).([]any)
	return context.WithValue(ctx, logAttrsKey{}, append(slices.Clip(prev), args...))
}

// Logger returns the default logger enriched with the trace_id and span_id of
// the active span and with any attributes attached by [WithLogAttrs].
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if extra, ok := ctx.Value(logAttrsKey{}).([]any); ok {
		args = append(args, extra...)
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
