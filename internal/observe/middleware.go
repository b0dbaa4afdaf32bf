package observe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests that no mux pattern served.
const unmatchedRoute = "unmatched"

// quietPaths are probe and scrape endpoints logged at debug level.
var quietPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streamed responses working behind the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments an ops handler. Every request runs in a server span
// continued from an incoming traceparent header; the trace ID is echoed as
// X-Correlation-ID and the request is timed into
// [Metrics.HTTPRequestDuration].
//
// Once the handler has run, the span is renamed to the matched
// [http.ServeMux] pattern and the metric is labelled with it, so path
// parameters such as voice names never become label values.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				"HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			route := unmatchedRoute
			if r.Pattern != "" {
				route = r.Pattern
				span.SetName(route)
				span.SetAttributes(semconv.HTTPRoute(route))
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", route),
			))
			logRequest(ctx, r, rec.statusCode, elapsed)
		})
	}
}

func logRequest(ctx context.Context, r *http.Request, status int, elapsed time.Duration) {
	level := slog.LevelInfo
	if quietPaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	Logger(ctx).LogAttrs(ctx, level, "request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}
