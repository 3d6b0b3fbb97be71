// Zmetad - Sensor Telemetry Ingestion and Alerting Pipeline
// Copyright 2026 T. Morland (tmorland)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tmorland/zmetad

// Package api provides the HTTP surface: ingest, health, status, rules
// management, the WebSocket stream, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmorland/zmetad/internal/config"
	"github.com/tmorland/zmetad/internal/hub"
	"github.com/tmorland/zmetad/internal/logging"
	"github.com/tmorland/zmetad/internal/metrics"
	"github.com/tmorland/zmetad/internal/pipeline"
	"github.com/tmorland/zmetad/internal/recorder"
	"github.com/tmorland/zmetad/internal/rules"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	hub      *hub.Hub
	engine   *rules.Engine
	deduper  *rules.Deduper
	recorder *recorder.Recorder
	stats    *metrics.State
	registry *prometheus.Registry
}

// NewServer assembles the HTTP server around the pipeline components.
func NewServer(
	cfg *config.Config,
	pipe *pipeline.Pipeline,
	h *hub.Hub,
	engine *rules.Engine,
	deduper *rules.Deduper,
	rec *recorder.Recorder,
	stats *metrics.State,
	registry *prometheus.Registry,
) *Server {
	return &Server{
		cfg:      cfg,
		pipe:     pipe,
		hub:      h,
		engine:   engine,
		deduper:  deduper,
		recorder: rec,
		stats:    stats,
		registry: registry,
	}
}

// Routes builds the router with the full middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Security.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", s.cfg.Security.AuthHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.handleWS)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if !s.cfg.Security.RateLimitDisabled {
			r.Use(httprate.Limit(
				s.cfg.Security.RateLimitReqs,
				s.cfg.Security.RateLimitWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}
		r.Post("/ingest", s.handleIngest)
		r.Get("/rules", s.handleRules)
		r.Post("/rules/reload", s.handleRulesReload)
	})

	return r
}

// String implements the supervisor service name.
func (s *Server) String() string {
	return "http-api"
}

// Serve runs the HTTP server until the context is cancelled, then shuts
// down gracefully. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("HTTP shutdown failed")
		}
		s.hub.CloseAll()
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requestLogging logs one line per request at debug level.
func requestLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logging.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}
