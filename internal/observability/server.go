// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

// Package observability serves the operator endpoints of authcore: the
// Prometheus scrape target and the liveness and readiness checks.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// DefaultCheckTimeout bounds each readiness check.
const DefaultCheckTimeout = 2 * time.Second

// HealthCheck returns an error while a dependency cannot serve requests.
type HealthCheck func(ctx context.Context) error

// ServerConfig configures a Server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9100" or ":9100".
	Addr string

	// Checks are the readiness checks by name, e.g. "database".
	Checks map[string]HealthCheck

	// CheckTimeout bounds each check. Zero means DefaultCheckTimeout.
	CheckTimeout time.Duration

	Logger *slog.Logger
}

// Readiness report states.
const (
	StatusReady       = "ready"
	StatusUnavailable = "unavailable"
	checkOK           = "ok"
	checkFailing      = "failing"
)

// ReadinessReport is the JSON body of the readiness endpoint. Check errors
// are logged, never returned, since the endpoint may be reachable by
// anything that can reach the metrics port.
type ReadinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server exposes metrics and health endpoints on their own listener, apart
// from the auth API.
type Server struct {
	cfg        ServerConfig
	registry   *prometheus.Registry
	metrics    *Metrics
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server with a fresh registry holding the Go runtime,
// process and auth collectors.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		cfg:      cfg,
		registry: registry,
		metrics:  NewMetrics(registry),
	}
}

// Metrics returns the auth metrics. It satisfies auth.Recorder.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the routes served by the Server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	r.Get("/healthz/liveness", s.handleLiveness)
	r.Get("/healthz/readiness", s.handleReadiness)
	return r
}

// Start listens on the configured address and serves in the background.
// Serve failures are sent on the returned channel, which is closed once
// the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.cfg.Logger.Error("observability server failed", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.cfg.Logger.Info("observability server started",
		"addr", listener.Addr().String(),
		"checks", s.checkNames())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("OBSERVABILITY_SHUTDOWN_FAILED").Wrap(err)
	}
	s.cfg.Logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready runs every readiness check and reports the outcome.
func (s *Server) Ready(ctx context.Context) ReadinessReport {
	report := ReadinessReport{Status: StatusReady}
	if len(s.cfg.Checks) == 0 {
		return report
	}
	report.Checks = make(map[string]string, len(s.cfg.Checks))
	for _, name := range s.checkNames() {
		checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
		err := s.cfg.Checks[name](checkCtx)
		cancel()
		if err != nil {
			s.cfg.Logger.WarnContext(ctx, "readiness check failing", "check", name, "error", err)
			report.Checks[name] = checkFailing
			report.Status = StatusUnavailable
			continue
		}
		report.Checks[name] = checkOK
	}
	return report
}

func (s *Server) checkNames() []string {
	names := make([]string, 0, len(s.cfg.Checks))
	for name := range s.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := s.Ready(r.Context())
	status := http.StatusOK
	if report.Status != StatusReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // the client may have gone away
	json.NewEncoder(w).Encode(body)
}
