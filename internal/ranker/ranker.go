// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package ranker scores retrieved candidates and diversifies the final feed.
// Ranking is fully deterministic: equal inputs always produce the same
// ordering, so cached and regenerated feeds agree.
package ranker

import (
	"sort"
	"time"
)

// Weights blends the three score components.
type Weights struct {
	Similarity float64
	Trending   float64
	Affinity   float64
}

// DefaultWeights favors semantic similarity with trending and category
// affinity as secondary signals.
var DefaultWeights = Weights{Similarity: 0.6, Trending: 0.2, Affinity: 0.2}

// Candidate is one retrieved item with its raw score components.
type Candidate struct {
	ID            string
	Category      string
	PublishedAt   time.Time
	Similarity    float64
	TrendingScore float64
	Affinity      float64
}

// RankedItem is a scored feed entry as returned to clients.
type RankedItem struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	PublishedAt   time.Time `json:"published_at"`
	Similarity    float64   `json:"similarity"`
	TrendingScore float64   `json:"trending_score"`
	Affinity      float64   `json:"affinity"`
	FinalScore    float64   `json:"final_score"`
	Reason        string    `json:"reason"`
}

// Reason strings surfaced to clients, chosen by the dominant weighted score
// component.
const (
	ReasonSimilarity = "similar_to_your_interests"
	ReasonTrending   = "trending"
	ReasonAffinity   = "popular_in_your_categories"
)

// reason picks the explanation from the largest weighted component.
func reason(c Candidate, w Weights) string {
	sim := w.Similarity * c.Similarity
	trend := w.Trending * c.TrendingScore
	aff := w.Affinity * c.Affinity

	switch {
	case sim >= trend && sim >= aff:
		return ReasonSimilarity
	case trend >= aff:
		return ReasonTrending
	default:
		return ReasonAffinity
	}
}

// Rank scores and orders candidates, then diversifies so no category holds
// more than maxPerCategory slots, and returns at most k items. Whenever at
// least k candidates are eligible exactly k are returned: overflow beyond a
// category cap is deferred, not discarded, and replayed once the capped pass
// runs out of candidates.
func Rank(candidates []Candidate, k int, w Weights, maxPerCategory int) []RankedItem {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}

	scored := make([]RankedItem, len(candidates))
	for i, c := range candidates {
		scored[i] = RankedItem{
			ID:            c.ID,
			Category:      c.Category,
			PublishedAt:   c.PublishedAt,
			Similarity:    c.Similarity,
			TrendingScore: c.TrendingScore,
			Affinity:      c.Affinity,
			FinalScore:    w.Similarity*c.Similarity + w.Trending*c.TrendingScore + w.Affinity*c.Affinity,
			Reason:        reason(c, w),
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.TrendingScore != b.TrendingScore {
			return a.TrendingScore > b.TrendingScore
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID < b.ID
	})

	return Take(scored, k, maxPerCategory)
}

// Take selects up to k items from an already ranked list, applying the
// category cap with the same deferred-pool relaxation Rank uses. Relative
// order is preserved. It also re-diversifies a cached feed when a smaller
// limit is requested.
func Take(items []RankedItem, k, maxPerCategory int) []RankedItem {
	if k <= 0 || len(items) == 0 {
		return nil
	}
	if maxPerCategory < 1 {
		maxPerCategory = 1
	}

	out := make([]RankedItem, 0, k)
	deferred := make([]RankedItem, 0)
	perCategory := make(map[string]int)

	for _, item := range items {
		if len(out) == k {
			break
		}
		if perCategory[item.Category] >= maxPerCategory {
			deferred = append(deferred, item)
			continue
		}
		perCategory[item.Category]++
		out = append(out, item)
	}

	// Relax the cap: fill remaining slots from the deferred pool in score
	// order rather than returning a short feed.
	for _, item := range deferred {
		if len(out) == k {
			break
		}
		out = append(out, item)
	}

	return out
}

// MaxPerCategory derives the category cap for a feed of size k using the
// configured divisor: ceil(k / divisor).
func MaxPerCategory(k, divisor int) int {
	if divisor < 1 {
		divisor = 1
	}
	n := (k + divisor - 1) / divisor
	if n < 1 {
		n = 1
	}
	return n
}
