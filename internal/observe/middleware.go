package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of the request spans.
const tracerName = "github.com/MrWong99/voxweave"

// RouteClass buckets a request path into one of the fixed API surfaces.
// Span and metric attributes use the class instead of the raw path so that
// version ids in URLs cannot blow up label cardinality.
func RouteClass(path string) string {
	switch {
	case path == "/v1/feed":
		return "feed"
	case strings.HasPrefix(path, "/v1/versions"):
		return "versions"
	case strings.HasPrefix(path, "/v1/session"):
		return "session"
	case path == "/v1/transcript":
		return "transcript"
	}
	return "ops"
}

// CorrelationID returns the trace id of the span in ctx, or "" when there is
// none. It doubles as the X-Correlation-ID response header so log lines and
// client reports can be matched up.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the API mux. Every request runs inside a server
// span named after its method and route class, continuing an incoming W3C
// trace context when one is present. The span and the duration histogram
// carry the route class and, when sessionID yields one, the id of the
// realtime session the request operates on. sessionID may be nil.
func Middleware(m *Metrics, sessionID func() string) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	tracer := otel.Tracer(tracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := RouteClass(r.URL.Path)

			attrs := []attribute.KeyValue{
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				attribute.String("voxweave.route", route),
			}
			if sessionID != nil {
				if id := sessionID(); id != "" {
					attrs = append(attrs, attribute.String("voxweave.session_id", id))
				}
			}

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.status))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
				),
			)

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
