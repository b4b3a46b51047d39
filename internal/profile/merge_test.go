// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package profile

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/feedloom/feedloom/internal/vector"
)

func defaultMergeOptions() MergeOptions {
	return MergeOptions{Alpha: 0.3, Retries: 3}
}

func TestMergeColdStartAdoptsSessionDirection(t *testing.T) {
	store := NewMemoryStore()
	session := unitVec(t, 5)

	res, err := Merge(context.Background(), store, "user-1", MergeInput{
		Embedding:         session,
		ArticlesProcessed: 12,
	}, defaultMergeOptions())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !res.Created {
		t.Error("first merge must create the profile")
	}
	if res.Profile.Version != 1 {
		t.Errorf("version = %d, want 1", res.Profile.Version)
	}
	// normalize(0.3*session + 0.7*zero) points exactly at the session vector.
	if sim := vector.Dot(res.Profile.Embedding, session); sim < 1-vector.Epsilon {
		t.Errorf("cold-start embedding similarity = %f, want ~1", sim)
	}
	if res.Profile.ArticlesRead != 12 {
		t.Errorf("ArticlesRead = %d, want 12", res.Profile.ArticlesRead)
	}
}

func TestMergeBlendsExistingInterest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	opts := defaultMergeOptions()

	first := unitVec(t, 0)
	second := unitVec(t, 1)

	if _, err := Merge(ctx, store, "user-1", MergeInput{Embedding: first}, opts); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	res, err := Merge(ctx, store, "user-1", MergeInput{Embedding: second}, opts)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	// Expected direction: normalize(0.3*second + 0.7*first).
	want := vector.Normalize(vector.Lerp(second, first, 0.3))
	if sim := vector.Dot(res.Profile.Embedding, want); sim < 1-1e-5 {
		t.Errorf("blended direction similarity = %f, want ~1", sim)
	}
	if norm := vector.Norm2(res.Profile.Embedding); math.Abs(norm-1) > 1e-5 {
		t.Errorf("merged embedding norm = %f, want 1", norm)
	}
	if res.Delta <= 0 {
		t.Errorf("delta = %f, want > 0 for a direction change", res.Delta)
	}
	if res.Profile.Version != 2 {
		t.Errorf("version = %d, want 2", res.Profile.Version)
	}
}

func TestMergeCategoryAffinityEMA(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	opts := defaultMergeOptions()

	if _, err := Merge(ctx, store, "user-1", MergeInput{
		Embedding:        unitVec(t, 0),
		CategoryExposure: map[string]float64{"tech": 1.0},
	}, opts); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	res, err := Merge(ctx, store, "user-1", MergeInput{
		Embedding:        unitVec(t, 0),
		CategoryExposure: map[string]float64{"science": 1.0},
	}, opts)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}

	aff := res.Profile.CategoryAffinity
	// tech: 0.3 after first merge, decays to 0.21 with no exposure.
	if got := aff["tech"]; math.Abs(got-0.21) > 1e-9 {
		t.Errorf("tech affinity = %f, want 0.21", got)
	}
	if got := aff["science"]; math.Abs(got-0.3) > 1e-9 {
		t.Errorf("science affinity = %f, want 0.3", got)
	}
}

func TestMergeAffinityPrunesBelowFloor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	opts := defaultMergeOptions()

	if _, err := Merge(ctx, store, "user-1", MergeInput{
		Embedding:        unitVec(t, 0),
		CategoryExposure: map[string]float64{"sports": 0.05},
	}, opts); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// sports decays 0.015 -> 0.0105 -> 0.00735, crossing the prune floor
	// on the third merge.
	var res *MergeResult
	for i := 0; i < 2; i++ {
		var err error
		res, err = Merge(ctx, store, "user-1", MergeInput{Embedding: unitVec(t, 0)}, opts)
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
	}
	if _, ok := res.Profile.CategoryAffinity["sports"]; ok {
		t.Errorf("near-zero affinity should be pruned, got %v", res.Profile.CategoryAffinity)
	}
}

func TestMergeEngagementScoreEMA(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	opts := defaultMergeOptions()

	if _, err := Merge(ctx, store, "user-1", MergeInput{
		Embedding:      unitVec(t, 0),
		EngagementRate: 1.0,
	}, opts); err != nil {
		t.Fatalf("merge: %v", err)
	}
	res, err := Merge(ctx, store, "user-1", MergeInput{
		Embedding:      unitVec(t, 0),
		EngagementRate: 0.0,
	}, opts)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := res.Profile.EngagementScore; math.Abs(got-0.21) > 1e-9 {
		t.Errorf("engagement score = %f, want 0.21", got)
	}
}

// racingStore injects a competing write between a reader's Get and its CAS so
// the interleaving is deterministic.
type racingStore struct {
	Store
	mu        sync.Mutex
	racesLeft int
	rival     MergeInput
	alpha     float64
}

func (s *racingStore) Get(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.Store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	inject := s.racesLeft > 0
	if inject {
		s.racesLeft--
	}
	s.mu.Unlock()

	if inject {
		rivalNext := applyMerge(p, s.rival, s.alpha)
		if err := s.Store.UpdateCAS(ctx, rivalNext, p.Version); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func TestMergeRetriesAfterLostRace(t *testing.T) {
	inner := NewMemoryStore()
	if err := inner.Create(context.Background(), NewProfile("user-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rival := MergeInput{Embedding: unitVec(t, 1), ArticlesProcessed: 5}
	store := &racingStore{Store: inner, racesLeft: 1, rival: rival, alpha: 0.3}

	res, err := Merge(context.Background(), store, "user-1", MergeInput{
		Embedding:         unitVec(t, 0),
		ArticlesProcessed: 3,
	}, defaultMergeOptions())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.Retries != 1 {
		t.Errorf("retries = %d, want 1", res.Retries)
	}
	// Both merges landed: version advanced twice and both article counts
	// are reflected. Neither update was lost.
	if res.Profile.Version != 2 {
		t.Errorf("version = %d, want 2", res.Profile.Version)
	}
	if res.Profile.ArticlesRead != 8 {
		t.Errorf("ArticlesRead = %d, want 8 (5 rival + 3 retried)", res.Profile.ArticlesRead)
	}
}

func TestMergeConflictAfterExhaustedRetries(t *testing.T) {
	inner := NewMemoryStore()
	if err := inner.Create(context.Background(), NewProfile("user-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rival := MergeInput{Embedding: unitVec(t, 1)}
	store := &racingStore{Store: inner, racesLeft: 100, rival: rival, alpha: 0.3}

	_, err := Merge(context.Background(), store, "user-1", MergeInput{
		Embedding: unitVec(t, 0),
	}, defaultMergeOptions())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMergeConcurrentUpdatesAllLand(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	opts := MergeOptions{Alpha: 0.3, Retries: 50}

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Merge(ctx, store, "user-1", MergeInput{
				Embedding:         unitVec(t, i%vector.Dim),
				ArticlesProcessed: 1,
			}, opts)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != writers {
		t.Errorf("version = %d, want %d (one bump per merge)", got.Version, writers)
	}
	if got.ArticlesRead != writers {
		t.Errorf("ArticlesRead = %d, want %d (no lost updates)", got.ArticlesRead, writers)
	}
}
