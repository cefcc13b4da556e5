// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the orchestrator over HTTP: request submission,
// session history, health and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/ensemble/pkg/auth"
	"github.com/kadirpekel/ensemble/pkg/config"
	"github.com/kadirpekel/ensemble/pkg/orchestrator"
	"github.com/kadirpekel/ensemble/pkg/ratelimit"
	"github.com/kadirpekel/ensemble/pkg/session"
)

// Server serves the HTTP API.
type Server struct {
	cfg      config.ServerConfig
	orch     *orchestrator.Orchestrator
	sessions session.Service
	logger   *slog.Logger

	validator auth.TokenValidator
	limiter   *ratelimit.Limiter
	extra     []func(http.Handler) http.Handler

	http *http.Server
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAuth enforces bearer authentication with v, honouring the configured
// excluded paths.
func WithAuth(v auth.TokenValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithMiddleware appends handler-wrapping middleware (tracing, metrics) to
// the chain.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.extra = append(s.extra, mw...) }
}

// New builds a server over the orchestrator and session history.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, sessions session.Service, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		sessions: sessions,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit.Enabled {
		// Config is validated upstream, so construction cannot fail here.
		s.limiter, _ = ratelimit.NewLimiter(cfg.RateLimit, ratelimit.NewMemoryStore())
	}
	return s
}

// Handler assembles the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	for _, mw := range s.extra {
		r.Use(mw)
	}
	if s.validator != nil {
		r.Use(auth.Middleware(s.validator, s.cfg.Auth.ExcludedPaths))
	}
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter, s.callerKey))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", s.handleRequest)
		r.Get("/sessions/{id}", s.handleSession)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Address()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

// callerKey prefers the authenticated subject over the client address.
// Probe endpoints are not limited.
func (s *Server) callerKey(r *http.Request) string {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return ""
	}
	if claims := auth.ClaimsFrom(r.Context()); claims != nil {
		return claims.Subject
	}
	return ratelimit.RemoteAddrKey(r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten())
	})
}
