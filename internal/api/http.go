// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api provides the HTTP surface for search and triage operations.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/pipeline"
	"github.com/ManuGH/mediasearch/internal/search"
	"github.com/ManuGH/mediasearch/internal/store"
)

// Options tunes the HTTP server outside of route wiring.
type Options struct {
	Listen        string
	RateLimitRPS  int           // per-IP request budget per window, 0 disables
	RateLimitSpan time.Duration // window for RateLimitRPS, defaults to 1s
}

// Server exposes search queries and operator triage over HTTP.
type Server struct {
	opts   Options
	db     store.Store
	search *search.Service
	retry  *pipeline.RetryManager
	logger zerolog.Logger

	httpSrv *http.Server
}

// New wires the API server. retry may be nil when triage endpoints are not
// served (read-only deployments); they then answer 503.
func New(opts Options, db store.Store, svc *search.Service, retry *pipeline.RetryManager) *Server {
	s := &Server{
		opts:   opts,
		db:     db,
		search: svc,
		retry:  retry,
		logger: log.WithComponent("api"),
	}
	s.httpSrv = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the chi route tree. Exposed for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.logMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitRPS > 0 {
			span := s.opts.RateLimitSpan
			if span <= 0 {
				span = time.Second
			}
			r.Use(httprate.LimitByIP(s.opts.RateLimitRPS, span))
		}
		r.Get("/search", s.handleSearch)
		r.Route("/triage", func(r chi.Router) {
			r.Get("/", s.handleTriageList)
			r.Get("/{assetID}", s.handleTriageDetail)
			r.Post("/{assetID}/retry", s.handleTriageRetry)
			r.Post("/{assetID}/skip", s.handleTriageSkip)
		})
	})
	return r
}

// Start serves until ListenAndServe returns. http.ErrServerClosed is
// swallowed so a clean Shutdown reports nil.
func (s *Server) Start() error {
	s.logger.Info().Str("listen", s.opts.Listen).Msg("http server starting")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
