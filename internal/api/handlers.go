// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package api provides the HTTP surface for the recommendation core.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/feedloom/feedloom/internal/catalog"
	"github.com/feedloom/feedloom/internal/engine"
	"github.com/feedloom/feedloom/internal/ingest"
	"github.com/feedloom/feedloom/internal/logging"
	"github.com/feedloom/feedloom/internal/profile"
	"github.com/feedloom/feedloom/internal/vector"
)

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	engine   *engine.Engine
	catalog  catalog.Provider
	validate *validator.Validate
}

// NewHandler creates a handler.
func NewHandler(eng *engine.Engine, provider catalog.Provider) *Handler {
	return &Handler{
		engine:   eng,
		catalog:  provider,
		validate: validator.New(),
	}
}

// apiError is the error body returned to clients.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError maps a domain error to an HTTP status and error body.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ingest.ErrInvalidEmbedding):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, profile.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, profile.ErrConflict):
		status, code = http.StatusConflict, "UPDATE_CONFLICT"
	case errors.Is(err, ingest.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, catalog.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "DEADLINE_EXCEEDED"
	}

	if status >= 500 {
		logging.Ctx(ctx).Error().Err(err).Str("code", code).Msg("API error")
	} else {
		logging.Ctx(ctx).Debug().Err(err).Str("code", code).Msg("API request rejected")
	}
	respondJSON(w, status, errorResponse{Error: apiError{Code: code, Message: err.Error()}})
}

// updateRequest is the POST body for an embedding update.
type updateRequest struct {
	SessionID         string             `json:"session_id" validate:"required"`
	Embedding         []float32          `json:"embedding" validate:"required"`
	SessionStart      time.Time          `json:"session_start"`
	SessionEnd        time.Time          `json:"session_end"`
	ArticlesProcessed int64              `json:"articles_processed" validate:"gte=0"`
	Engagement        engagementDTO      `json:"engagement"`
	CategoryExposure  map[string]float64 `json:"category_exposure" validate:"dive,gte=0,lte=1"`
}

type engagementDTO struct {
	Liked              int64   `json:"liked" validate:"gte=0"`
	Shared             int64   `json:"shared" validate:"gte=0"`
	Bookmarked         int64   `json:"bookmarked" validate:"gte=0"`
	Skipped            int64   `json:"skipped" validate:"gte=0"`
	AvgReadTimeSeconds float64 `json:"avg_read_time_seconds" validate:"gte=0"`
}

// SubmitEmbeddingUpdate handles POST /api/v1/users/{userID}/embedding/update.
func (h *Handler) SubmitEmbeddingUpdate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(r.Context(), w, errors.Join(ingest.ErrInvalidEmbedding, err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(r.Context(), w, errors.Join(ingest.ErrInvalidEmbedding, err))
		return
	}

	res, err := h.engine.SubmitEmbeddingUpdate(r.Context(), ingest.Request{
		UserID:            userID,
		SessionID:         req.SessionID,
		Embedding:         vector.Vector(req.Embedding),
		SessionStart:      req.SessionStart,
		SessionEnd:        req.SessionEnd,
		ArticlesProcessed: req.ArticlesProcessed,
		Engagement: ingest.EngagementSummary{
			Liked:              req.Engagement.Liked,
			Shared:             req.Engagement.Shared,
			Bookmarked:         req.Engagement.Bookmarked,
			Skipped:            req.Engagement.Skipped,
			AvgReadTimeSeconds: req.Engagement.AvgReadTimeSeconds,
		},
		CategoryExposure: req.CategoryExposure,
	})
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if !res.Duplicate {
		status = http.StatusCreated
	}
	respondJSON(w, status, res)
}

// GetEmbeddingStatus handles GET /api/v1/users/{userID}/embedding/status.
func (h *Handler) GetEmbeddingStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetEmbeddingStatus(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// GetFeed handles GET /api/v1/users/{userID}/feed?limit=&exclude=.
func (h *Handler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(r.Context(), w, errors.Join(ingest.ErrInvalidEmbedding,
				errors.New("limit must be a non-negative integer")))
			return
		}
		limit = parsed
	}

	var exclude []string
	if raw := r.URL.Query().Get("exclude"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				exclude = append(exclude, id)
			}
		}
	}

	feed, err := h.engine.GetPersonalizedFeed(r.Context(), userID, limit, exclude)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusOK, feed)
}

// trackReadsRequest is the POST body for read tracking.
type trackReadsRequest struct {
	Articles int64 `json:"articles" validate:"required,gt=0"`
}

// TrackReads handles POST /api/v1/users/{userID}/reads, advancing the
// articles-since-sync counter that drives the sync-required hint.
func (h *Handler) TrackReads(w http.ResponseWriter, r *http.Request) {
	var req trackReadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(r.Context(), w, errors.Join(ingest.ErrInvalidEmbedding, err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(r.Context(), w, errors.Join(ingest.ErrInvalidEmbedding, err))
		return
	}

	if err := h.engine.TrackReads(r.Context(), chi.URLParam(r, "userID"), req.Articles); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires the
// catalog store to answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	count, err := h.catalog.Count(r.Context())
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"catalog_items": count,
	})
}
