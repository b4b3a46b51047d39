// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package metrics provides Prometheus collectors for the recommendation
// core. Metrics are exposed at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "endpoint"},
	)

	// Feed generation

	FeedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_requests_total",
			Help: "Total number of personalized feed requests",
		},
		[]string{"result"}, // "cache_hit", "generated", "fallback"
	)

	FeedGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_generation_duration_seconds",
			Help:    "End-to-end feed generation latency on cache miss",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1},
		},
	)

	FeedFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_fallbacks_total",
			Help: "Feed requests degraded to the trending-only fallback",
		},
	)

	// Caches

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "feed"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry or capacity)",
		},
		[]string{"cache_type"},
	)

	// Update ingestion

	IngestUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_updates_total",
			Help: "Embedding update submissions by outcome",
		},
		[]string{"outcome"}, // "merged", "duplicate", "rejected", "conflict"
	)

	MergeRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_merge_retries_total",
			Help: "Optimistic merge retries caused by concurrent profile writes",
		},
	)

	// Trending aggregator

	TrendingRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trending_recompute_duration_seconds",
			Help:    "Duration of trending score recomputation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	TrendingItemsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trending_items_tracked",
			Help: "Items inside the trending lookback window at last recompute",
		},
	)

	// Similarity index

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "similarity_index_vectors",
			Help: "Vectors currently held by the similarity index",
		},
	)

	IndexRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "similarity_index_refresh_duration_seconds",
			Help:    "Duration of periodic index rebuilds from the catalog",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	// Catalog store

	CatalogQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_query_errors_total",
			Help: "Failed catalog queries",
		},
		[]string{"operation"},
	)

	CatalogBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)
)
