// Package server exposes the chat orchestrator over HTTP: a
// line-delimited JSON event stream for chat, plus approval and
// session management endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxbot-dev/boxbot/internal/agent"
	"github.com/boxbot-dev/boxbot/internal/config"
	"github.com/boxbot-dev/boxbot/internal/observability"
)

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	auth       config.AuthConfig
	orch       *agent.Orchestrator
	approvals  *agent.ApprovalService
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	httpServer *http.Server
}

func New(cfg config.ServerConfig, auth config.AuthConfig, orch *agent.Orchestrator, approvals *agent.ApprovalService, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	s := &Server{
		cfg:       cfg,
		auth:      auth,
		orch:      orch,
		approvals: approvals,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /api/v1/chat", s.authenticated(s.handleChat))
	mux.Handle("GET /api/v1/approvals", s.authenticated(s.handleListApprovals))
	mux.Handle("POST /api/v1/approvals/{id}/approve", s.authenticated(s.handleApprove))
	mux.Handle("POST /api/v1/approvals/{id}/reject", s.authenticated(s.handleReject))
	mux.Handle("POST /api/v1/history/clear", s.authenticated(s.handleClearHistory))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.instrument(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Run serves until ctx is cancelled, then drains connections within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.logger != nil {
		s.logger.Info(ctx, "http server listening", "addr", s.cfg.Addr())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		if s.logger != nil {
			s.logger.Error(shutdownCtx, "http server shutdown failed", "error", err)
		}
		return err
	}
	if s.logger != nil {
		s.logger.Info(shutdownCtx, "http server stopped")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// instrument wraps the mux with request metrics and correlation IDs.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ctx := observability.AddRequestID(r.Context(), newRequestID())
		next.ServeHTTP(recorder, r.WithContext(ctx))

		s.metrics.ObserveHTTPRequest(r.Method, r.URL.Path, recorder.StatusText(), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) StatusText() string {
	switch {
	case r.status >= 500:
		return "5xx"
	case r.status >= 400:
		return "4xx"
	case r.status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
