// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Command server runs the Feedloom recommendation service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/feedloom/feedloom/internal/api"
	"github.com/feedloom/feedloom/internal/catalog"
	"github.com/feedloom/feedloom/internal/config"
	"github.com/feedloom/feedloom/internal/engine"
	"github.com/feedloom/feedloom/internal/feedcache"
	"github.com/feedloom/feedloom/internal/index"
	"github.com/feedloom/feedloom/internal/ingest"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/profile"
	"github.com/feedloom/feedloom/internal/ranker"
	"github.com/feedloom/feedloom/internal/supervisor"
	"github.com/feedloom/feedloom/internal/supervisor/services"
	"github.com/feedloom/feedloom/internal/trending"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("profile_path", cfg.ProfileStore.Path).
		Int("port", cfg.Server.Port).
		Msg("Configuration loaded")

	// Stores.
	db, err := profile.OpenBadger(cfg.ProfileStore.Path, cfg.ProfileStore.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open profile store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing profile store")
		}
	}()
	profiles := profile.NewBadgerStore(db)
	records := ingest.NewRecordStore(db, cfg.Ingest.Retention)

	cat, err := catalog.OpenDuckDB(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open content catalog")
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing content catalog")
		}
	}()
	logging.Info().Msg("Stores initialized")

	// Serving-path components.
	cache := feedcache.New(cfg.FeedCache.TTL, cfg.FeedCache.MaxEntries)
	idx := index.NewFlat()
	trends := trending.NewAggregator(cat, trending.Config{
		Lookback: cfg.Trending.Lookback,
		HalfLife: cfg.Trending.HalfLife,
	})
	ingestor := ingest.New(profiles, records, cache, ingest.Config{
		Alpha:         cfg.Personalize.Alpha,
		MergeRetries:  cfg.Personalize.MergeRetries,
		SyncThreshold: int64(cfg.Personalize.SyncThreshold),
		RatePerSecond: cfg.Ingest.RatePerSecond,
		RateBurst:     cfg.Ingest.RateBurst,
	})
	eng := engine.New(profiles, cat, idx, trends, cache, ingestor, engine.Options{
		DefaultK:      cfg.Retrieval.DefaultK,
		MaxK:          cfg.Retrieval.MaxK,
		Oversample:    cfg.Retrieval.Oversample,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		ExcludeWindow: cfg.Retrieval.ExcludeWindow,
		Deadline:      cfg.Retrieval.Deadline,
		CatalogWindow: cfg.Retrieval.CatalogWindow,
		Weights: ranker.Weights{
			Similarity: cfg.Ranking.SimilarityWeight,
			Trending:   cfg.Ranking.TrendingWeight,
			Affinity:   cfg.Ranking.AffinityWeight,
		},
		CategoryDivisor: cfg.Ranking.CategoryDivisor,
	})

	// HTTP surface.
	handler := api.NewHandler(eng, cat)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewMaintenanceService(cfg.ProfileStore.GCInterval, profiles.RunGC))
	tree.AddBackgroundService(services.NewTrendingService(cfg.Trending.Interval, trends.Recompute))
	tree.AddBackgroundService(services.NewIndexRefreshService(cfg.Retrieval.RefreshInterval, eng.RefreshIndex))
	tree.AddAPIService(services.NewHTTPService(server, cfg.Server.Timeout))
	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree assembled")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
