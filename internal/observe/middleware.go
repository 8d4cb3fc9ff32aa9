package observe

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the per-request identifier. A client-supplied
// value is kept; otherwise a UUID is generated.
const RequestIDHeader = "X-Request-ID"

// CorrelationIDHeader echoes the trace ID back to the client.
const CorrelationIDHeader = "X-Correlation-ID"

// quietPaths are logged at debug level.
var quietPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// responseRecorder remembers the status and body size written through it.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is needed for websocket upgrades behind the middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T cannot be hijacked", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *responseRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Middleware wraps a handler with a server span, request and correlation
// IDs, a latency histogram sample and one access log line per request.
// Incoming W3C trace context is continued.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					attribute.String("request.id", reqID),
				))
			defer span.End()

			h := w.Header()
			h.Set(RequestIDHeader, reqID)
			if cid := CorrelationID(ctx); cid != "" {
				h.Set(CorrelationIDHeader, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(h))

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(WithRequestID(ctx, reqID)))

			finish(ctx, m, span, r, rec, reqID, time.Since(start))
		})
	}
}

func finish(ctx context.Context, m *Metrics, span trace.Span, r *http.Request, rec *responseRecorder, reqID string, took time.Duration) {
	status := rec.code()
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	m.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", r.URL.Path),
		attribute.String("status", strconv.Itoa(status)),
	))

	level := slog.LevelInfo
	if quietPaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	Logger(WithRequestID(ctx, reqID)).LogAttrs(ctx, level, "request completed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Int64("bytes", rec.written),
		slog.Duration("duration", took),
	)
}
