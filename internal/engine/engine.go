// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package engine orchestrates the serving path: profile lookup, version
// checked cache, candidate retrieval, ranking, and the trending-only
// degraded mode when generation cannot finish inside its deadline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedloom/feedloom/internal/catalog"
	"github.com/feedloom/feedloom/internal/feedcache"
	"github.com/feedloom/feedloom/internal/index"
	"github.com/feedloom/feedloom/internal/ingest"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/profile"
	"github.com/feedloom/feedloom/internal/ranker"
	"github.com/feedloom/feedloom/internal/trending"
	"github.com/feedloom/feedloom/internal/vector"
)

// Feed source labels reported in responses and metrics.
const (
	SourceCache    = "cache"
	SourcePersonal = "personalized"
	SourceFallback = "trending_fallback"
)

// Feed is a generated feed for one user.
type Feed struct {
	UserID      string              `json:"user_id"`
	Items       []ranker.RankedItem `json:"items"`
	GeneratedAt time.Time           `json:"generated_at"`

	// Source reports how the feed was produced: served from cache,
	// generated, or degraded to the trending fallback.
	Source string `json:"source"`
}

// Options tunes feed generation.
type Options struct {
	DefaultK        int
	MaxK            int
	Oversample      int
	MinSimilarity   float64
	ExcludeWindow   int
	Deadline        time.Duration
	CatalogWindow   time.Duration
	Weights         ranker.Weights
	CategoryDivisor int
}

// Engine wires the serving-path components together.
type Engine struct {
	profiles profile.Store
	catalog  catalog.Provider
	idx      index.SimilarityIndex
	trends   *trending.Aggregator
	cache    *feedcache.Cache
	ingestor *ingest.Ingestor
	opts     Options
}

// New creates an engine.
func New(
	profiles profile.Store,
	provider catalog.Provider,
	idx index.SimilarityIndex,
	trends *trending.Aggregator,
	cache *feedcache.Cache,
	ingestor *ingest.Ingestor,
	opts Options,
) *Engine {
	return &Engine{
		profiles: profiles,
		catalog:  provider,
		idx:      idx,
		trends:   trends,
		cache:    cache,
		ingestor: ingestor,
		opts:     opts,
	}
}

// SubmitEmbeddingUpdate forwards a client session update to the ingestor.
func (e *Engine) SubmitEmbeddingUpdate(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	return e.ingestor.Submit(ctx, req)
}

// GetEmbeddingStatus reports a user's sync state.
func (e *Engine) GetEmbeddingStatus(ctx context.Context, userID string) (*ingest.Status, error) {
	return e.ingestor.Status(ctx, userID)
}

// TrackReads records served articles against the user's sync counter.
func (e *Engine) TrackReads(ctx context.Context, userID string, n int64) error {
	return e.ingestor.TrackReads(ctx, userID, n)
}

// GetPersonalizedFeed returns a feed of up to limit items for the user.
//
// A cached feed is served only if it is inside its TTL and was generated at
// the user's current profile version. On a miss, generation runs under a hard
// deadline; if retrieval or metadata lookup cannot finish in time the request
// degrades to a trending-only feed rather than failing. Degraded feeds are
// never cached. An unknown user is profile.ErrNotFound.
func (e *Engine) GetPersonalizedFeed(ctx context.Context, userID string, limit int, excludeSeen []string) (*Feed, error) {
	k := e.clampLimit(limit)

	p, err := e.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile for feed: %w", err)
	}

	if items, ok := e.cache.Get(userID, p.Version); ok {
		metrics.FeedRequestsTotal.WithLabelValues("cache_hit").Inc()
		// Re-apply the category cap for the requested limit: a plain
		// prefix of a feed diversified for a larger K could overfill a
		// category.
		return &Feed{
			UserID:      userID,
			Items:       ranker.Take(items, k, ranker.MaxPerCategory(k, e.opts.CategoryDivisor)),
			GeneratedAt: time.Now().UTC(),
			Source:      SourceCache,
		}, nil
	}

	exclude := e.exclusionSet(excludeSeen)

	start := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()

	items, err := e.generate(genCtx, p, k, exclude)
	if err != nil {
		metrics.FeedRequestsTotal.WithLabelValues("fallback").Inc()
		metrics.FeedFallbacksTotal.Inc()
		logging.Ctx(ctx).Warn().Err(err).
			Str("user_id", userID).
			Dur("elapsed", time.Since(start)).
			Msg("Feed generation degraded to trending fallback")
		return &Feed{
			UserID:      userID,
			Items:       e.trendingFallback(k, exclude),
			GeneratedAt: time.Now().UTC(),
			Source:      SourceFallback,
		}, nil
	}

	metrics.FeedRequestsTotal.WithLabelValues("generated").Inc()
	metrics.FeedGenerationDuration.Observe(time.Since(start).Seconds())
	e.cache.Put(userID, p.Version, items)

	return &Feed{
		UserID:      userID,
		Items:       items,
		GeneratedAt: time.Now().UTC(),
		Source:      SourcePersonal,
	}, nil
}

// generate runs the retrieve-fetch-rank pipeline under ctx's deadline.
func (e *Engine) generate(ctx context.Context, p *profile.Profile, k int, exclude map[string]struct{}) ([]ranker.RankedItem, error) {
	snap := e.trends.Snapshot()

	// Oversample so diversification still has enough candidates after the
	// category caps apply.
	fetch := k * e.opts.Oversample
	minSim := e.opts.MinSimilarity
	if vector.IsZero(p.Embedding) {
		// Cold start: no interest direction yet, rank trending candidates
		// by engagement and whatever affinity exists.
		return e.coldStart(ctx, snap, k, fetch, exclude)
	}

	results := e.idx.Query(p.Embedding, fetch, exclude, minSim)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("candidate retrieval: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("no candidates above similarity threshold")
	}

	ids := make([]string, len(results))
	simByID := make(map[string]float64, len(results))
	for i, r := range results {
		ids[i] = r.ID
		simByID[r.ID] = r.Similarity
	}

	items, err := e.catalog.Items(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("candidate metadata: %w", err)
	}

	candidates := make([]ranker.Candidate, len(items))
	for i, it := range items {
		candidates[i] = ranker.Candidate{
			ID:            it.ID,
			Category:      it.Category,
			PublishedAt:   it.PublishedAt,
			Similarity:    simByID[it.ID],
			TrendingScore: snap.Score(it.ID),
			Affinity:      p.CategoryAffinity[it.Category],
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ranking: %w", err)
	}

	maxPerCat := ranker.MaxPerCategory(k, e.opts.CategoryDivisor)
	return ranker.Rank(candidates, k, e.opts.Weights, maxPerCat), nil
}

// coldStart serves users whose profile is still the neutral zero vector.
func (e *Engine) coldStart(ctx context.Context, snap *trending.Snapshot, k, fetch int, exclude map[string]struct{}) ([]ranker.RankedItem, error) {
	top := snap.TopN(fetch, exclude)
	if len(top) == 0 {
		return nil, errors.New("no trending candidates for cold start")
	}

	ids := make([]string, len(top))
	for i, t := range top {
		ids[i] = t.ID
	}
	items, err := e.catalog.Items(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cold-start metadata: %w", err)
	}

	candidates := make([]ranker.Candidate, len(items))
	for i, it := range items {
		candidates[i] = ranker.Candidate{
			ID:            it.ID,
			Category:      it.Category,
			PublishedAt:   it.PublishedAt,
			TrendingScore: snap.Score(it.ID),
		}
	}

	maxPerCat := ranker.MaxPerCategory(k, e.opts.CategoryDivisor)
	return ranker.Rank(candidates, k, e.opts.Weights, maxPerCat), nil
}

// trendingFallback builds the degraded feed from the trending snapshot
// alone. It touches no store, so it cannot fail with the stores down, and it
// diversifies across categories like the primary path.
func (e *Engine) trendingFallback(k int, exclude map[string]struct{}) []ranker.RankedItem {
	top := e.trends.Snapshot().TopN(k*e.opts.Oversample, exclude)
	candidates := make([]ranker.Candidate, len(top))
	for i, t := range top {
		candidates[i] = ranker.Candidate{
			ID:            t.ID,
			Category:      t.Category,
			TrendingScore: t.Score,
		}
	}
	maxPerCat := ranker.MaxPerCategory(k, e.opts.CategoryDivisor)
	return ranker.Rank(candidates, k, e.opts.Weights, maxPerCat)
}

// RefreshIndex rebuilds the similarity index from recently published catalog
// items. The swap is atomic; queries see either the old or the new contents.
func (e *Engine) RefreshIndex(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-e.opts.CatalogWindow)

	items, err := e.catalog.ListPublishedSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("index refresh: %w", err)
	}

	ids := make([]string, 0, len(items))
	vecs := make([]vector.Vector, 0, len(items))
	for _, it := range items {
		if len(it.Embedding) != vector.Dim {
			continue
		}
		ids = append(ids, it.ID)
		vecs = append(vecs, vector.Normalize(it.Embedding))
	}
	e.idx.ReplaceAll(ids, vecs)

	metrics.IndexRefreshDuration.Observe(time.Since(start).Seconds())
	logging.Debug().
		Int("items", len(ids)).
		Dur("elapsed", time.Since(start)).
		Msg("Similarity index rebuilt")
	return nil
}

// exclusionSet bounds and de-duplicates the caller's seen-item list. Only
// the most recent entries are honored when the list exceeds the window.
func (e *Engine) exclusionSet(seen []string) map[string]struct{} {
	if len(seen) > e.opts.ExcludeWindow {
		seen = seen[len(seen)-e.opts.ExcludeWindow:]
	}
	out := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		out[id] = struct{}{}
	}
	return out
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.opts.DefaultK
	}
	if limit > e.opts.MaxK {
		return e.opts.MaxK
	}
	return limit
}
