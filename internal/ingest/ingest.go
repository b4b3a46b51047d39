// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package ingest accepts embedding updates computed on client devices and
// folds them into user profiles. Submissions are validated, deduplicated by
// (user, session) so retried deliveries are idempotent, and merged under
// optimistic concurrency.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/feedloom/feedloom/internal/feedcache"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/metrics"
	"github.com/feedloom/feedloom/internal/profile"
	"github.com/feedloom/feedloom/internal/vector"
)

// Sentinel errors surfaced to the transport layer.
var (
	// ErrInvalidEmbedding indicates the submitted vector failed validation.
	// Nothing was persisted.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrRateLimited indicates the global ingest limiter rejected the
	// request. The client should back off and retry.
	ErrRateLimited = errors.New("ingest rate limit exceeded")
)

// EngagementSummary aggregates one session's interactions.
type EngagementSummary struct {
	Liked              int64   `json:"liked"`
	Shared             int64   `json:"shared"`
	Bookmarked         int64   `json:"bookmarked"`
	Skipped            int64   `json:"skipped"`
	AvgReadTimeSeconds float64 `json:"avg_read_time_seconds"`
}

// Request is one embedding update submission.
type Request struct {
	UserID            string             `json:"user_id"`
	SessionID         string             `json:"session_id"`
	Embedding         vector.Vector      `json:"embedding"`
	SessionStart      time.Time          `json:"session_start"`
	SessionEnd        time.Time          `json:"session_end"`
	ArticlesProcessed int64              `json:"articles_processed"`
	Engagement        EngagementSummary  `json:"engagement"`
	CategoryExposure  map[string]float64 `json:"category_exposure"`
}

// Result is the outcome of a submission.
type Result struct {
	// UpdateID identifies the processed record.
	UpdateID string `json:"update_id"`

	// Duplicate reports that this (user, session) pair was already
	// processed and the recorded outcome is being replayed.
	Duplicate bool `json:"duplicate"`

	// Delta is the cosine distance the interest vector moved.
	Delta float64 `json:"personalization_delta"`

	// ProfileVersion is the version the merge produced.
	ProfileVersion int64 `json:"profile_version"`

	// NextBatchReady reports that the cached feed was invalidated and a
	// fresh personalized batch will be generated on the next fetch.
	NextBatchReady bool `json:"next_batch_ready"`
}

// Status describes a user's sync state.
type Status struct {
	UserID            string    `json:"user_id"`
	LastUpdated       time.Time `json:"last_updated"`
	ProfileVersion    int64     `json:"profile_version"`
	ArticlesSinceSync int64     `json:"articles_since_sync"`
	SyncRequired      bool      `json:"sync_required"`
	EngagementScore   float64   `json:"engagement_score"`
	TotalArticlesRead int64     `json:"total_articles_read"`
}

// Config tunes the ingestor.
type Config struct {
	Alpha         float64
	MergeRetries  int
	SyncThreshold int64
	RatePerSecond float64
	RateBurst     int
}

// Ingestor processes embedding updates.
type Ingestor struct {
	profiles profile.Store
	records  *RecordStore
	cache    *feedcache.Cache
	limiter  *rate.Limiter
	cfg      Config
}

// New creates an ingestor.
func New(profiles profile.Store, records *RecordStore, cache *feedcache.Cache, cfg Config) *Ingestor {
	return &Ingestor{
		profiles: profiles,
		records:  records,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		cfg:      cfg,
	}
}

// Submit validates, deduplicates and merges one embedding update.
//
// A replayed (user, session) pair short-circuits to the recorded outcome with
// no side effects, so clients retrying over flaky connections cannot
// double-apply a session. Validation failures reject before any state is
// touched.
func (ing *Ingestor) Submit(ctx context.Context, req Request) (*Result, error) {
	if !ing.limiter.Allow() {
		return nil, ErrRateLimited
	}

	if err := validate(req); err != nil {
		metrics.IngestUpdatesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// Claim the (user, session) pair before merging. The reservation is a
	// single transaction, so of any number of racing deliveries exactly one
	// proceeds to the merge; the rest replay.
	rec := &Record{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		ReceivedAt: time.Now().UTC(),
		Pending:    true,
	}
	prior, err := ing.records.Reserve(rec)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		metrics.IngestUpdatesTotal.WithLabelValues("duplicate").Inc()
		logging.Ctx(ctx).Debug().
			Str("user_id", req.UserID).
			Str("session_id", req.SessionID).
			Bool("pending", prior.Pending).
			Msg("Duplicate embedding update, replaying recorded outcome")
		// A still-pending record means the first delivery is mid-merge;
		// its replay carries no delta but is still a duplicate, not a
		// second merge.
		return &Result{
			UpdateID:       prior.ID,
			Duplicate:      true,
			Delta:          prior.Delta,
			ProfileVersion: prior.ProfileVersion,
			NextBatchReady: prior.NextBatchReady,
		}, nil
	}

	merged, err := profile.Merge(ctx, ing.profiles, req.UserID, profile.MergeInput{
		Embedding:         req.Embedding,
		CategoryExposure:  req.CategoryExposure,
		ArticlesProcessed: req.ArticlesProcessed,
		EngagementRate:    engagementRate(req),
	}, profile.MergeOptions{Alpha: ing.cfg.Alpha, Retries: ing.cfg.MergeRetries})
	if err != nil {
		if errors.Is(err, profile.ErrConflict) {
			metrics.IngestUpdatesTotal.WithLabelValues("conflict").Inc()
		}
		if rerr := ing.records.Release(req.UserID, req.SessionID); rerr != nil {
			logging.Ctx(ctx).Warn().Err(rerr).
				Str("user_id", req.UserID).
				Str("session_id", req.SessionID).
				Msg("Failed to release update reservation")
		}
		return nil, err
	}

	ing.cache.Invalidate(req.UserID)
	if err := ing.records.ResetPendingReads(req.UserID); err != nil {
		// The merge already landed; a stale counter only delays the next
		// sync hint.
		logging.Ctx(ctx).Warn().Err(err).
			Str("user_id", req.UserID).
			Msg("Failed to reset pending-read counter")
	}

	rec.Pending = false
	rec.Delta = merged.Delta
	rec.ProfileVersion = merged.Profile.Version
	rec.NextBatchReady = true
	if err := ing.records.Save(rec); err != nil {
		// The reservation already blocks a double-apply; losing the
		// outcome only degrades replays to a bare acknowledgment.
		logging.Ctx(ctx).Warn().Err(err).
			Str("user_id", req.UserID).
			Msg("Failed to persist update record")
	}

	metrics.IngestUpdatesTotal.WithLabelValues("merged").Inc()
	logging.Ctx(ctx).Info().
		Str("user_id", req.UserID).
		Str("update_id", rec.ID).
		Float64("delta", merged.Delta).
		Int64("version", merged.Profile.Version).
		Int("merge_retries", merged.Retries).
		Msg("Embedding update merged")

	return &Result{
		UpdateID:       rec.ID,
		Delta:          merged.Delta,
		ProfileVersion: merged.Profile.Version,
		NextBatchReady: true,
	}, nil
}

// TrackReads bumps the articles-read-since-sync counter used by Status.
func (ing *Ingestor) TrackReads(ctx context.Context, userID string, n int64) error {
	if n <= 0 {
		return nil
	}
	return ing.records.AddPendingReads(userID, n)
}

// Status reports a user's sync state, or profile.ErrNotFound.
func (ing *Ingestor) Status(ctx context.Context, userID string) (*Status, error) {
	p, err := ing.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	pending, err := ing.records.PendingReads(userID)
	if err != nil {
		return nil, err
	}

	return &Status{
		UserID:            userID,
		LastUpdated:       p.LastUpdated,
		ProfileVersion:    p.Version,
		ArticlesSinceSync: pending,
		SyncRequired:      pending >= ing.cfg.SyncThreshold,
		EngagementScore:   p.EngagementScore,
		TotalArticlesRead: p.ArticlesRead,
	}, nil
}

// validate checks the submission before any state is touched.
func validate(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidEmbedding)
	}
	if req.SessionID == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalidEmbedding)
	}
	if err := vector.Validate(req.Embedding); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEmbedding, err)
	}
	if req.ArticlesProcessed < 0 {
		return fmt.Errorf("%w: articles_processed must be non-negative", ErrInvalidEmbedding)
	}
	for cat, share := range req.CategoryExposure {
		if share < 0 || share > 1 {
			return fmt.Errorf("%w: category exposure for %q outside [0,1]", ErrInvalidEmbedding, cat)
		}
	}
	return nil
}

// engagementRate derives the fraction of the session's articles the user
// actively engaged with.
func engagementRate(req Request) float64 {
	engaged := req.Engagement.Liked + req.Engagement.Shared + req.Engagement.Bookmarked
	total := req.ArticlesProcessed
	if total <= 0 {
		total = engaged + req.Engagement.Skipped
	}
	if total <= 0 {
		return 0
	}
	r := float64(engaged) / float64(total)
	if r > 1 {
		r = 1
	}
	return r
}
