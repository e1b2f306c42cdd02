// Package server exposes the host HTTP surface: session lifecycle control,
// transcript and version queries, a WebSocket update feed for the preview UI,
// and the operational endpoints (health, readiness, Prometheus metrics).
//
// All state lives in the session manager and its aggregator; handlers here
// only translate between HTTP and those APIs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxweave/internal/health"
	"github.com/MrWong99/voxweave/internal/observe"
	"github.com/MrWong99/voxweave/internal/session"
)

const (
	// readHeaderTimeout bounds slow-header clients on the listener.
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout is how long Run waits for in-flight requests after the
	// context is cancelled.
	shutdownTimeout = 10 * time.Second
)

// Config holds everything the server needs to run.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	// Manager owns the realtime session and the aggregator. Required.
	Manager *session.Manager

	// Health serves /healthz and /readyz. A handler with no checkers is used
	// when nil.
	Health *health.Handler

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics
}

// Server is the voxweave HTTP host.
type Server struct {
	addr     string
	certFile string
	keyFile  string

	mgr     *session.Manager
	health  *health.Handler
	metrics *observe.Metrics
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("server: session manager is required")
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		addr:     cfg.Addr,
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		mgr:      cfg.Manager,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
	}, nil
}

// Handler returns the full route table wrapped in the observability
// middleware:
//
//	GET  /healthz                — liveness
//	GET  /readyz                 — readiness
//	GET  /metrics                — Prometheus exposition
//	GET  /v1/session             — session status
//	POST /v1/session/connect     — start a realtime session
//	POST /v1/session/disconnect  — stop the active session
//	POST /v1/session/mute        — toggle outbound audio
//	GET  /v1/transcript          — permanent transcript entries
//	GET  /v1/versions            — committed code versions (metadata only)
//	GET  /v1/versions/current    — the selected version, payload included
//	PUT  /v1/versions/current    — redirect the selection to an existing id
//	GET  /v1/versions/{id}       — one version, payload included
//	GET  /v1/feed                — WebSocket update stream
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/session", s.handleSessionStatus)
	mux.HandleFunc("POST /v1/session/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/session/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /v1/session/mute", s.handleMute)

	mux.HandleFunc("GET /v1/transcript", s.handleTranscript)
	mux.HandleFunc("GET /v1/versions", s.handleListVersions)
	mux.HandleFunc("GET /v1/versions/current", s.handleCurrentVersion)
	mux.HandleFunc("PUT /v1/versions/current", s.handleSelectVersion)
	mux.HandleFunc("GET /v1/versions/{id}", s.handleGetVersion)

	mux.HandleFunc("GET /v1/feed", s.handleFeed)

	sessionID := func() string { return s.mgr.Info().SessionID }
	return observe.Middleware(s.metrics, sessionID)(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully. It returns
// nil on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", s.addr, "tls", s.certFile != "")
		var err error
		if s.certFile != "" && s.keyFile != "" {
			err = srv.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
