// Package gateway exposes the configured providers over HTTP.
//
// Routes:
//
//	POST /v1/completions   single completion
//	POST /v1/structured    JSON output constrained by a schema
//	POST /v1/agent         tool-calling loop over the tool host
//	GET  /v1/stream        websocket; one request frame in, chunk frames out
//	GET  /v1/providers     configured providers and circuit states
//	GET  /v1/tools         registered tools with call statistics
//	GET  /v1/usage         usage summary and recent records
//	GET  /healthz, /readyz health probes
//
// Every response error carries the provider error kind so clients can
// branch on it without parsing messages.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/omnillm/internal/agent"
	"github.com/MrWong99/omnillm/internal/app"
	"github.com/MrWong99/omnillm/internal/health"
	"github.com/MrWong99/omnillm/internal/observe"
	"github.com/MrWong99/omnillm/internal/toolhost"
	"github.com/MrWong99/omnillm/internal/usage"
	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Runtime is the part of [app.App] the gateway serves.
type Runtime interface {
	Provider(name string) (llm.Provider, error)
	Providers() []app.ProviderInfo
	CircuitStates() map[string]string
	ApplyDefaults(opts llm.GenerationOptions) llm.GenerationOptions
	Runner(provider string, cfg agent.Config) (*agent.Runner, error)
	Tools() *toolhost.Host
	Ledger() *usage.Ledger
	Ready(ctx context.Context) error
}

// Server routes gateway requests to a [Runtime].
type Server struct {
	rt          Runtime
	metrics     *observe.Metrics
	metricsPath string
	health      *health.Handler
	handler     http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsPath serves the Prometheus registry at path. Empty disables
// the endpoint.
func WithMetricsPath(path string) Option {
	return func(s *Server) { s.metricsPath = path }
}

// WithHealthCheck adds a readiness checker next to the built-in provider
// check.
func WithHealthCheck(c health.Checker) Option {
	return func(s *Server) { s.health.Add(c) }
}

// New builds the gateway router.
func New(rt Runtime, opts ...Option) *Server {
	s := &Server{
		rt:          rt,
		metricsPath: "/metrics",
		health:      health.New(health.Checker{Name: "providers", Check: rt.Ready}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/completions", s.handleCompletion)
	mux.HandleFunc("POST /v1/structured", s.handleStructured)
	mux.HandleFunc("POST /v1/agent", s.handleAgent)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/providers", s.handleProviders)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	s.health.Register(mux)
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, promhttp.Handler())
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is cancelled, then drains
// in-flight requests for up to grace. certFile and keyFile enable TLS when
// both are set.
func (s *Server) Serve(ctx context.Context, ln net.Listener, certFile, keyFile string, grace time.Duration) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", ln.Addr().String(), "tls", certFile != "")
		if certFile != "" && keyFile != "" {
			errCh <- srv.ServeTLS(ln, certFile, keyFile)
		} else {
			errCh <- srv.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway: shutdown: %w", err)
	}
	return nil
}
