// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package index

import (
	"container/heap"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/vector"
)

// flatState is the immutable snapshot read by queries. Writers build a new
// state and swap the pointer; readers never take a lock.
type flatState struct {
	ids  []string
	vecs []vector.Vector
	byID map[string]int
}

// Flat is an exact brute-force similarity index using a copy-on-write
// snapshot for lock-free concurrent reads.
type Flat struct {
	state   atomic.Pointer[flatState]
	writeMu sync.Mutex // serializes writers only
}

var _ SimilarityIndex = (*Flat)(nil)

// NewFlat creates an empty flat index.
func NewFlat() *Flat {
	f := &Flat{}
	f.state.Store(&flatState{byID: map[string]int{}})
	return f
}

// Upsert inserts or replaces a single vector.
func (f *Flat) Upsert(id string, vec vector.Vector) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	old := f.state.Load()
	next := &flatState{
		ids:  make([]string, len(old.ids)),
		vecs: make([]vector.Vector, len(old.vecs)),
		byID: make(map[string]int, len(old.byID)+1),
	}
	copy(next.ids, old.ids)
	copy(next.vecs, old.vecs)
	for k, v := range old.byID {
		next.byID[k] = v
	}

	if i, ok := next.byID[id]; ok {
		next.vecs[i] = vec
	} else {
		next.byID[id] = len(next.ids)
		next.ids = append(next.ids, id)
		next.vecs = append(next.vecs, vec)
	}

	f.state.Store(next)
	metrics.IndexSize.Set(float64(len(next.ids)))
}

// ReplaceAll atomically swaps the whole index contents.
func (f *Flat) ReplaceAll(ids []string, vecs []vector.Vector) {
	next := &flatState{
		ids:  ids,
		vecs: vecs,
		byID: make(map[string]int, len(ids)),
	}
	for i, id := range ids {
		next.byID[id] = i
	}

	f.writeMu.Lock()
	f.state.Store(next)
	f.writeMu.Unlock()
	metrics.IndexSize.Set(float64(len(ids)))
}

// Len returns the number of indexed vectors.
func (f *Flat) Len() int {
	return len(f.state.Load().ids)
}

// candidate is a heap entry during top-k selection.
type candidate struct {
	id  string
	sim float64
}

// minHeap keeps the k best candidates with the worst on top.
type minHeap []candidate

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].sim != h[j].sim {
		return h[i].sim < h[j].sim
	}
	// Worst-first also means larger id first on ties, so the kept set is
	// deterministic.
	return h[i].id > h[j].id
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Query scans the current snapshot and returns the top k matches by
// descending similarity, ties broken by id for a stable total order.
func (f *Flat) Query(query vector.Vector, k int, exclude map[string]struct{}, minSimilarity float64) []Result {
	if k <= 0 {
		return nil
	}

	st := f.state.Load()
	h := make(minHeap, 0, k+1)

	for i, id := range st.ids {
		if _, skip := exclude[id]; skip {
			continue
		}
		sim := vector.Dot(query, st.vecs[i])
		if sim < minSimilarity {
			continue
		}
		heap.Push(&h, candidate{id: id, sim: sim})
		if len(h) > k {
			heap.Pop(&h)
		}
	}

	out := make([]Result, len(h))
	for i := range out {
		out[i] = Result{ID: h[i].id, Similarity: h[i].sim}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}
