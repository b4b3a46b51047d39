// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and throwaway deployments.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: map[string]*Profile{}}
}

// Get retrieves a profile by user id.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Create inserts a profile only if none exists for the user.
func (s *MemoryStore) Create(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.UserID]; ok {
		return ErrVersionMismatch
	}
	s.profiles[p.UserID] = p.Clone()
	return nil
}

// UpdateCAS writes p if the stored version equals expected.
func (s *MemoryStore) UpdateCAS(_ context.Context, p *Profile, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.profiles[p.UserID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expected {
		return ErrVersionMismatch
	}

	next := p.Clone()
	next.Version = expected + 1
	s.profiles[p.UserID] = next
	return nil
}

// Delete removes a profile.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.profiles, userID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
