// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package profile stores per-user interest state: the interest vector, a
// category affinity map, and bookkeeping counters. Updates go through
// optimistic concurrency control: every profile carries a version, and writes
// are compare-and-swap on the version the writer read.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/feedloom/feedloom/internal/vector"
)

// Sentinel errors for profile access.
var (
	// ErrNotFound indicates no profile exists for the user.
	ErrNotFound = errors.New("profile not found")

	// ErrVersionMismatch indicates a CAS write lost a race: the stored
	// version no longer matches the one the writer read.
	ErrVersionMismatch = errors.New("profile version mismatch")

	// ErrConflict indicates a merge exhausted its retry budget without
	// winning a CAS. The client may retry the whole update.
	ErrConflict = errors.New("profile update conflict")
)

// Profile is a user's interest state. Embedding is always either the neutral
// zero vector (cold start) or unit-normalized.
type Profile struct {
	UserID    string        `json:"user_id"`
	Embedding vector.Vector `json:"embedding"`

	// Version increments by exactly one on every successful write.
	Version int64 `json:"version"`

	CategoryAffinity map[string]float64 `json:"category_affinity,omitempty"`

	LastUpdated     time.Time `json:"last_updated"`
	ArticlesRead    int64     `json:"articles_read"`
	EngagementScore float64   `json:"engagement_score"`
}

// Clone returns a deep copy safe to mutate.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Embedding = append(vector.Vector(nil), p.Embedding...)
	if p.CategoryAffinity != nil {
		cp.CategoryAffinity = make(map[string]float64, len(p.CategoryAffinity))
		for k, v := range p.CategoryAffinity {
			cp.CategoryAffinity[k] = v
		}
	}
	return &cp
}

// NewProfile returns a cold-start profile with the neutral zero embedding.
func NewProfile(userID string) *Profile {
	return &Profile{
		UserID:           userID,
		Embedding:        vector.Zero(),
		Version:          0,
		CategoryAffinity: map[string]float64{},
		LastUpdated:      time.Now().UTC(),
	}
}

// Store persists profiles with versioned writes.
type Store interface {
	// Get returns the profile for a user, or ErrNotFound.
	Get(ctx context.Context, userID string) (*Profile, error)

	// Create inserts a new profile at version 0. It fails with
	// ErrVersionMismatch if a profile already exists for the user.
	Create(ctx context.Context, p *Profile) error

	// UpdateCAS writes p only if the stored version equals expected, then
	// bumps the version by one. Returns ErrVersionMismatch on a lost race
	// and ErrNotFound if the profile disappeared.
	UpdateCAS(ctx context.Context, p *Profile, expected int64) error

	// Delete removes a profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, userID string) error

	// Close releases underlying resources.
	Close() error
}
