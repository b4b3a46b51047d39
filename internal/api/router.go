// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedloom/feedloom/internal/config"
)

// NewRouter assembles the HTTP surface.
func NewRouter(h *Handler, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints stay outside the API rate limit so probes are never
	// throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Use(httprate.Limit(cfg.RateLimitReqs, cfg.RateLimitWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Use(PrometheusMetrics)

		r.Post("/embedding/update", h.SubmitEmbeddingUpdate)
		r.Get("/embedding/status", h.GetEmbeddingStatus)
		r.Get("/feed", h.GetFeed)
		r.Post("/reads", h.TrackReads)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
