// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/vector"
)

// affinityFloor prunes decayed categories the user has stopped reading.
const affinityFloor = 0.01

// MergeOptions tunes the interest-vector merge.
type MergeOptions struct {
	// Alpha is the EMA weight on the incoming session embedding.
	Alpha float64

	// Retries bounds the optimistic CAS retry loop.
	Retries int
}

// MergeInput is one session's worth of signal to fold into a profile.
type MergeInput struct {
	// Embedding is the session embedding, already validated upstream.
	Embedding vector.Vector

	// CategoryExposure maps category to the share of the session spent on
	// it. Shares need not sum to 1; they are used as raw EMA targets.
	CategoryExposure map[string]float64

	ArticlesProcessed int64

	// EngagementRate is the fraction of session items the user actively
	// engaged with (liked, shared or bookmarked).
	EngagementRate float64
}

// MergeResult describes a successful merge.
type MergeResult struct {
	Profile *Profile

	// Delta is the cosine distance the interest vector moved.
	Delta float64

	// Retries is how many CAS attempts were lost before winning.
	Retries int

	// Created reports whether a cold-start profile was created first.
	Created bool
}

// Merge folds a session embedding into the user's profile with an exponential
// moving average, under optimistic concurrency: read, compute, CAS on the
// version read, retry on a lost race. When the retry budget is exhausted it
// returns ErrConflict and the profile is left exactly as some concurrent
// winner wrote it.
func Merge(ctx context.Context, store Store, userID string, in MergeInput, opts MergeOptions) (*MergeResult, error) {
	if opts.Retries < 1 {
		opts.Retries = 1
	}

	created := false
	for attempt := 0; attempt < opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := store.Get(ctx, userID)
		if errors.Is(err, ErrNotFound) {
			fresh := NewProfile(userID)
			if err := store.Create(ctx, fresh); err != nil {
				if errors.Is(err, ErrVersionMismatch) {
					// Lost the creation race; the profile exists now.
					continue
				}
				return nil, fmt.Errorf("create profile: %w", err)
			}
			created = true
			current = fresh
		} else if err != nil {
			return nil, fmt.Errorf("load profile: %w", err)
		}

		next := applyMerge(current, in, opts.Alpha)

		err = store.UpdateCAS(ctx, next, current.Version)
		if errors.Is(err, ErrVersionMismatch) {
			metrics.MergeRetriesTotal.Inc()
			logging.Debug().
				Str("user_id", userID).
				Int("attempt", attempt+1).
				Msg("Profile merge lost CAS race, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write profile: %w", err)
		}

		next.Version = current.Version + 1
		return &MergeResult{
			Profile: next,
			Delta:   vector.CosineDistance(current.Embedding, next.Embedding),
			Retries: attempt,
			Created: created,
		}, nil
	}

	return nil, fmt.Errorf("merge for user %s after %d attempts: %w", userID, opts.Retries, ErrConflict)
}

// applyMerge computes the post-merge profile without touching storage.
func applyMerge(current *Profile, in MergeInput, alpha float64) *Profile {
	next := current.Clone()

	blended := vector.Lerp(in.Embedding, current.Embedding, float32(alpha))
	next.Embedding = vector.Normalize(blended)

	if next.CategoryAffinity == nil {
		next.CategoryAffinity = map[string]float64{}
	}
	for cat, old := range next.CategoryAffinity {
		target := in.CategoryExposure[cat]
		updated := (1-alpha)*old + alpha*target
		if updated < affinityFloor {
			delete(next.CategoryAffinity, cat)
			continue
		}
		next.CategoryAffinity[cat] = updated
	}
	for cat, share := range in.CategoryExposure {
		if _, seen := next.CategoryAffinity[cat]; seen {
			continue
		}
		if v := alpha * share; v >= affinityFloor {
			next.CategoryAffinity[cat] = v
		}
	}

	next.EngagementScore = (1-alpha)*current.EngagementScore + alpha*in.EngagementRate
	next.ArticlesRead = current.ArticlesRead + in.ArticlesProcessed
	next.LastUpdated = time.Now().UTC()
	return next
}
