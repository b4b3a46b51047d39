// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package catalog provides read access to the content items produced by the
// external ingestion/summarization pipeline. The recommendation core treats
// the catalog as append-only: embeddings are immutable once written and
// engagement counters are advanced by external interaction endpoints.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/feedloom/feedloom/internal/vector"
)

// Sentinel errors for catalog access.
var (
	// ErrNotFound indicates an unknown content id.
	ErrNotFound = errors.New("content item not found")

	// ErrUnavailable indicates the underlying store is unreachable or the
	// circuit breaker is open. Callers should retry later.
	ErrUnavailable = errors.New("catalog unavailable")
)

// Item is a content item eligible for recommendation.
type Item struct {
	ID          string        `json:"id"`
	Embedding   vector.Vector `json:"embedding"`
	Category    string        `json:"category"`
	PublishedAt time.Time     `json:"published_at"`

	// Engagement counters, written by external interaction endpoints.
	Views     int64 `json:"views"`
	Likes     int64 `json:"likes"`
	Shares    int64 `json:"shares"`
	Bookmarks int64 `json:"bookmarks"`
}

// Provider is the read interface consumed by the recommendation core.
type Provider interface {
	// Item returns a single item by id, or ErrNotFound.
	Item(ctx context.Context, id string) (*Item, error)

	// Items returns metadata for the given ids. Unknown ids are skipped;
	// order is not guaranteed.
	Items(ctx context.Context, ids []string) ([]Item, error)

	// ListPublishedSince returns every item published at or after the
	// cutoff, used by the trending recompute and the index rebuild.
	ListPublishedSince(ctx context.Context, cutoff time.Time) ([]Item, error)

	// Count returns the total number of items.
	Count(ctx context.Context) (int64, error)
}

// Writer is implemented by stores that also accept items. Only the external
// pipeline (and tests) write; the serving path never does.
type Writer interface {
	Upsert(ctx context.Context, items ...Item) error
}
