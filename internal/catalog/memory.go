// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package catalog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Provider used by tests and embedded
// deployments without a catalog database.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

var _ Provider = (*MemoryStore)(nil)
var _ Writer = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item)}
}

// Upsert inserts or replaces items.
func (s *MemoryStore) Upsert(_ context.Context, items ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
	return nil
}

// Item returns a single item by id.
func (s *MemoryStore) Item(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

// Items returns metadata for the given ids, skipping unknown ones.
func (s *MemoryStore) Items(_ context.Context, ids []string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// ListPublishedSince returns items published at or after the cutoff.
func (s *MemoryStore) ListPublishedSince(_ context.Context, cutoff time.Time) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if !it.PublishedAt.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out, nil
}

// Count returns the total number of items.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items)), nil
}
