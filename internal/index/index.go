// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package index provides similarity search over content embeddings.
//
// The SimilarityIndex interface abstracts the backend so a brute-force scan,
// a specialized ANN index or an embedded database extension are
// interchangeable. The shipped implementation is an exact flat scan, which
// is both deterministic and fast enough at expected catalog sizes.
package index

import (
	"github.com/feedloom/feedloom/internal/vector"
)

// Result is a single similarity match.
type Result struct {
	// ID is the content item id.
	ID string

	// Similarity is the cosine similarity (dot product of unit vectors)
	// between the query and the item embedding.
	Similarity float64
}

// SimilarityIndex is the pluggable similarity-search capability.
// Implementations must be safe for concurrent use, with Query never blocked
// by writers.
type SimilarityIndex interface {
	// Upsert inserts or replaces a single vector.
	Upsert(id string, vec vector.Vector)

	// ReplaceAll atomically swaps the whole index contents; used by the
	// periodic rebuild from the catalog.
	ReplaceAll(ids []string, vecs []vector.Vector)

	// Query returns up to k items by descending similarity, skipping
	// excluded ids and anything below minSimilarity. Results are
	// deterministic for identical inputs.
	Query(query vector.Vector, k int, exclude map[string]struct{}, minSimilarity float64) []Result

	// Len returns the number of indexed vectors.
	Len() int
}
