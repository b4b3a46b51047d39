// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package trending maintains time-decayed engagement scores for recent
// content. Scores are recomputed periodically in the background and published
// as an immutable snapshot, so the hot serving path reads them with a single
// atomic load and never blocks on a recompute.
package trending

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/feedloom/feedloom/internal/catalog"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/metrics"
)

// Engagement weights, applied before time decay.
const (
	viewWeight  = 1.0
	likeWeight  = 2.0
	shareWeight = 3.0
)

// Entry is one item's trending state within a snapshot.
type Entry struct {
	ID       string
	Category string
	// Score is the decayed engagement score normalized to [0,1] against the
	// snapshot's maximum.
	Score float64
}

// Snapshot is an immutable trending view. Ranked is sorted by descending
// score with ties broken by id.
type Snapshot struct {
	ComputedAt time.Time
	Ranked     []Entry
	byID       map[string]float64
}

// Score returns the normalized trending score for an item, 0 if untracked.
func (s *Snapshot) Score(id string) float64 {
	if s == nil {
		return 0
	}
	return s.byID[id]
}

// TopN returns the n highest-scored entries not present in exclude.
func (s *Snapshot) TopN(n int, exclude map[string]struct{}) []Entry {
	if s == nil || n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	for _, e := range s.Ranked {
		if _, skip := exclude[e.ID]; skip {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out
}

// Config tunes the aggregator.
type Config struct {
	// Lookback bounds how far back the recompute scans for items.
	Lookback time.Duration

	// HalfLife controls the exponential decay of engagement with item age.
	HalfLife time.Duration
}

// Aggregator recomputes trending scores from catalog engagement counters and
// publishes them via an atomic snapshot swap.
type Aggregator struct {
	provider catalog.Provider
	cfg      Config
	snap     atomic.Pointer[Snapshot]
}

// NewAggregator creates an aggregator with an empty initial snapshot.
func NewAggregator(provider catalog.Provider, cfg Config) *Aggregator {
	a := &Aggregator{provider: provider, cfg: cfg}
	a.snap.Store(&Snapshot{byID: map[string]float64{}})
	return a
}

// Snapshot returns the current published snapshot. Always non-nil.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snap.Load()
}

// Recompute scans recently published items, scores them, and atomically
// publishes the new snapshot. A failed scan leaves the previous snapshot in
// place so serving degrades to stale-but-usable trending data.
func (a *Aggregator) Recompute(ctx context.Context) error {
	start := time.Now()
	cutoff := start.Add(-a.cfg.Lookback)

	items, err := a.provider.ListPublishedSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("trending recompute: %w", err)
	}

	entries := make([]Entry, 0, len(items))
	maxScore := 0.0
	for _, it := range items {
		raw := float64(it.Views)*viewWeight +
			float64(it.Likes)*likeWeight +
			float64(it.Shares)*shareWeight
		if raw <= 0 {
			continue
		}
		age := start.Sub(it.PublishedAt)
		if age < 0 {
			age = 0
		}
		score := raw * math.Exp(-age.Seconds()/a.cfg.HalfLife.Seconds())
		entries = append(entries, Entry{ID: it.ID, Category: it.Category, Score: score})
		if score > maxScore {
			maxScore = score
		}
	}

	byID := make(map[string]float64, len(entries))
	if maxScore > 0 {
		for i := range entries {
			entries[i].Score /= maxScore
			byID[entries[i].ID] = entries[i].Score
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})

	a.snap.Store(&Snapshot{
		ComputedAt: start,
		Ranked:     entries,
		byID:       byID,
	})

	elapsed := time.Since(start)
	metrics.TrendingRecomputeDuration.Observe(elapsed.Seconds())
	metrics.TrendingItemsTracked.Set(float64(len(entries)))
	logging.Debug().
		Int("items", len(entries)).
		Dur("elapsed", elapsed).
		Msg("Trending snapshot recomputed")
	return nil
}
