package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// plumbingPath reports whether p is scrape or probe traffic. Prometheus and
// the liveness probes hit the service every few seconds; spanning and
// logging each of those would bury the detection traffic they exist to
// observe.
func plumbingPath(p string) bool {
	switch p {
	case "/metrics", "/healthz", "/readyz":
		return true
	}
	return false
}

// Middleware wraps the API in the request observability layer: W3C trace
// context is extracted from (or started for) each request, the trace ID is
// echoed as X-Correlation-ID so edge devices can quote it in bug reports,
// and duration plus status land in [Metrics.HTTPRequestDuration]. Scrape
// and probe endpoints are measured but not traced or logged.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			plumbing := plumbingPath(r.URL.Path)

			ctx := r.Context()
			if !plumbing {
				ctx = prop.Extract(ctx, propagation.HeaderCarrier(r.Header))

				var span trace.Span
				ctx, span = StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
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
			}

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
					attribute.String("status", strconv.Itoa(rec.statusCode)),
				),
			)

			if plumbing {
				return
			}

			trace.SpanFromContext(ctx).SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
