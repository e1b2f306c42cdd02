package observe

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withTestTracer installs an in-memory span exporter as the global tracer
// provider for the duration of the test. Tests using it cannot run in
// parallel.
func withTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return exp
}

// serveThrough runs one request through the middleware with the given
// handler and returns the recorder.
func serveThrough(t *testing.T, m *Metrics, sessionID func() string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	Middleware(m, sessionID)(h).ServeHTTP(rec, req)
	return rec
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRouteClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/v1/feed", "feed"},
		{"/v1/versions", "versions"},
		{"/v1/versions/42", "versions"},
		{"/v1/versions/current", "versions"},
		{"/v1/session", "session"},
		{"/v1/session/connect", "session"},
		{"/v1/transcript", "transcript"},
		{"/healthz", "ops"},
		{"/metrics", "ops"},
		{"/", "ops"},
	}
	for _, tc := range tests {
		if got := RouteClass(tc.path); got != tc.want {
			t.Errorf("RouteClass(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestMiddleware_SetsCorrelationHeader(t *testing.T) {
	withTestTracer(t)
	m, _ := newTestMetrics(t)

	req := httptest.NewRequest("GET", "/v1/transcript", nil)
	rec := serveThrough(t, m, nil, okHandler, req)

	cid := rec.Header().Get("X-Correlation-ID")
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(cid) {
		t.Errorf("X-Correlation-ID = %q, want 32 hex chars", cid)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	withTestTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/v1/versions", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

	rec := serveThrough(t, m, nil, okHandler, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want incoming trace id %q", got, traceID)
	}
}

func TestMiddleware_SpanCarriesRouteAndSession(t *testing.T) {
	exp := withTestTracer(t)
	m, _ := newTestMetrics(t)

	sessionID := func() string { return "session-room-1-20260830T120000Z" }
	req := httptest.NewRequest("GET", "/v1/versions/7", nil)
	serveThrough(t, m, sessionID, okHandler, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "GET versions" {
		t.Errorf("span name = %q, want %q", span.Name, "GET versions")
	}

	attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["voxweave.route"].AsString(); got != "versions" {
		t.Errorf("voxweave.route = %q, want %q", got, "versions")
	}
	if got := attrs["voxweave.session_id"].AsString(); got != "session-room-1-20260830T120000Z" {
		t.Errorf("voxweave.session_id = %q", got)
	}
}

func TestMiddleware_NoSessionAttributeWhenDisconnected(t *testing.T) {
	exp := withTestTracer(t)
	m, _ := newTestMetrics(t)

	req := httptest.NewRequest("GET", "/v1/session", nil)
	serveThrough(t, m, func() string { return "" }, okHandler, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	for _, kv := range spans[0].Attributes {
		if kv.Key == "voxweave.session_id" {
			t.Errorf("unexpected voxweave.session_id attribute %q", kv.Value.AsString())
		}
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	exp := withTestTracer(t)
	m, _ := newTestMetrics(t)

	notFound := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}
	req := httptest.NewRequest("GET", "/v1/versions/999", nil)
	serveThrough(t, m, nil, notFound, req)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	for _, kv := range spans[0].Attributes {
		if kv.Key == "http.response.status_code" {
			if kv.Value.AsInt64() != http.StatusNotFound {
				t.Errorf("http.response.status_code = %d, want %d", kv.Value.AsInt64(), http.StatusNotFound)
			}
			return
		}
	}
	t.Error("span has no http.response.status_code attribute")
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	withTestTracer(t)
	m, reader := newTestMetrics(t)

	req := httptest.NewRequest("GET", "/v1/feed", nil)
	serveThrough(t, m, nil, okHandler, req)

	rm := collect(t, reader)
	met := findMetric(rm, "voxweave.http.request.duration")
	if met == nil {
		t.Fatal("voxweave.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("got %d data points, want 1", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if route, ok := dp.Attributes.Value("route"); !ok || route.AsString() != "feed" {
		t.Errorf("route attribute = %v, want %q", route.Emit(), "feed")
	}
	if method, ok := dp.Attributes.Value("method"); !ok || method.AsString() != "GET" {
		t.Errorf("method attribute = %v, want %q", method.Emit(), "GET")
	}
}
