// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package observability serves the launcher's Prometheus metrics, health
// probes and a JSON view of running games on an optional local endpoint.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Registrar registers one component's metrics, such as
// launch.RegisterMetrics.
type Registrar func(prometheus.Registerer)

// Options configures a Server.
type Options struct {
	// Addr is the listen address, for example "127.0.0.1:9464".
	Addr string

	// Ready reports whether the launcher core finished starting. nil means
	// always ready.
	Ready func() bool

	// Status returns the document served on /status. nil disables the
	// endpoint.
	Status func() any

	Logger *slog.Logger
}

// Server exposes /metrics, /healthz/liveness, /healthz/readiness and
// /status.
type Server struct {
	opts     Options
	registry *prometheus.Registry

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

// NewServer creates a server whose registry holds the Go and process
// collectors plus whatever each registrar adds.
func NewServer(opts Options, registrars ...Registrar) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, register := range registrars {
		register(registry)
	}
	return &Server{opts: opts, registry: registry}
}

// Registry returns the registry the server exposes.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start begins serving. The returned channel receives a serve error, if
// any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil, oops.With("addr", s.opts.Addr).Errorf("metrics server already running")
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, oops.With("addr", s.opts.Addr).Wrapf(err, "listen")
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /healthz/liveness", s.handleLiveness)
	mux.HandleFunc("GET /healthz/readiness", s.handleReadiness)
	if s.opts.Status != nil {
		mux.HandleFunc("GET /status", s.handleStatus)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener, s.http = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- oops.With("addr", listener.Addr().String()).Wrapf(err, "serve metrics")
		}
	}()

	s.opts.Logger.Debug("metrics server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx
// ends. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return oops.With("addr", s.opts.Addr).Wrapf(err, "shut down metrics server")
	}
	s.opts.Logger.Debug("metrics server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready == nil || s.opts.Ready() {
		writeText(w, http.StatusOK, "ok")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "not ready")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.opts.Status()); err != nil {
		s.opts.Logger.Warn("encode status", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n")) // client may be gone
}
