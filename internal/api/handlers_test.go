// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/feedloom/feedloom/internal/catalog"
	"github.com/feedloom/feedloom/internal/config"
	"github.com/feedloom/feedloom/internal/engine"
	"github.com/feedloom/feedloom/internal/feedcache"
	"github.com/feedloom/feedloom/internal/index"
	"github.com/feedloom/feedloom/internal/ingest"
	"github.com/feedloom/feedloom/internal/profile"
	"github.com/feedloom/feedloom/internal/ranker"
	"github.com/feedloom/feedloom/internal/trending"
	"github.com/feedloom/feedloom/internal/vector"
)

func testServer(t *testing.T) (http.Handler, *catalog.MemoryStore, *engine.Engine) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := catalog.NewMemoryStore()
	profiles := profile.NewMemoryStore()
	cache := feedcache.New(30*time.Minute, 100)
	trends := trending.NewAggregator(store, trending.Config{
		Lookback: 7 * 24 * time.Hour,
		HalfLife: 24 * time.Hour,
	})
	ing := ingest.New(profiles, ingest.NewRecordStore(db, time.Hour), cache, ingest.Config{
		Alpha:         0.3,
		MergeRetries:  3,
		SyncThreshold: 10,
		RatePerSecond: 1000,
		RateBurst:     1000,
	})
	eng := engine.New(profiles, store, index.NewFlat(), trends, cache, ing, engine.Options{
		DefaultK:        20,
		MaxK:            100,
		Oversample:      4,
		MinSimilarity:   0.1,
		ExcludeWindow:   500,
		Deadline:        200 * time.Millisecond,
		CatalogWindow:   90 * 24 * time.Hour,
		Weights:         ranker.DefaultWeights,
		CategoryDivisor: 4,
	})

	router := NewRouter(NewHandler(eng, store), config.ServerConfig{
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	})
	return router, store, eng
}

func embeddingOnAxis(dim int) []float32 {
	v := make([]float32, vector.Dim)
	v[dim] = 1
	return v
}

func postUpdate(t *testing.T, router http.Handler, userID string, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/users/%s/embedding/update", userID),
		bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitUpdateEndpoint(t *testing.T) {
	router, _, _ := testServer(t)

	rec := postUpdate(t, router, "user-1", map[string]any{
		"session_id":         "sess-1",
		"embedding":          embeddingOnAxis(0),
		"articles_processed": 5,
		"engagement":         map[string]any{"liked": 2},
		"category_exposure":  map[string]float64{"tech": 1.0},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.ProfileVersion != 1 || res.Duplicate {
		t.Errorf("unexpected result: %+v", res)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header must be set")
	}
}

func TestSubmitUpdateDuplicateReturns200(t *testing.T) {
	router, _, _ := testServer(t)
	body := map[string]any{
		"session_id": "sess-1",
		"embedding":  embeddingOnAxis(0),
	}

	if rec := postUpdate(t, router, "user-1", body); rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", rec.Code)
	}
	rec := postUpdate(t, router, "user-1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !res.Duplicate {
		t.Error("replay must be flagged duplicate")
	}
}

func TestSubmitUpdateValidation(t *testing.T) {
	router, _, _ := testServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing session", map[string]any{"embedding": embeddingOnAxis(0)}},
		{"missing embedding", map[string]any{"session_id": "s"}},
		{"short embedding", map[string]any{"session_id": "s", "embedding": []float32{1, 2, 3}}},
		{"exposure out of range", map[string]any{
			"session_id": "s", "embedding": embeddingOnAxis(0),
			"category_exposure": map[string]float64{"tech": 2.0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postUpdate(t, router, "user-1", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var res errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if res.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error code = %s, want VALIDATION_ERROR", res.Error.Code)
			}
		})
	}
}

func TestSubmitUpdateMalformedJSON(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/users/user-1/embedding/update",
		bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEmbeddingStatusEndpoint(t *testing.T) {
	router, _, _ := testServer(t)

	// Unknown user first.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/nobody/embedding/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", rec.Code)
	}

	postUpdate(t, router, "user-1", map[string]any{
		"session_id": "sess-1",
		"embedding":  embeddingOnAxis(0),
	})

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/embedding/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var st ingest.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.ProfileVersion != 1 {
		t.Errorf("profile version = %d, want 1", st.ProfileVersion)
	}
}

func TestFeedEndpoint(t *testing.T) {
	router, store, eng := testServer(t)
	ctx := context.Background()
	now := time.Now()

	items := []catalog.Item{
		{ID: "a", Embedding: vector.Vector(embeddingOnAxis(0)), Category: "tech", PublishedAt: now.Add(-time.Hour), Views: 10},
		{ID: "b", Embedding: vector.Vector(embeddingOnAxis(1)), Category: "science", PublishedAt: now.Add(-time.Hour), Views: 5},
	}
	if err := store.Upsert(ctx, items...); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := eng.RefreshIndex(ctx); err != nil {
		t.Fatalf("refresh index: %v", err)
	}

	postUpdate(t, router, "user-1", map[string]any{
		"session_id": "sess-1",
		"embedding":  embeddingOnAxis(0),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/feed?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var feed engine.Feed
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(feed.Items) == 0 || feed.Items[0].ID != "a" {
		t.Fatalf("unexpected feed: %+v", feed.Items)
	}

	// exclude= filters the top item.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/feed?limit=10&exclude=a", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	for _, item := range feed.Items {
		if item.ID == "a" {
			t.Fatal("excluded item returned")
		}
	}
}

func TestFeedEndpointUnknownUser(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/nobody/feed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFeedEndpointBadLimit(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/feed?limit=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTrackReadsEndpoint(t *testing.T) {
	router, _, _ := testServer(t)

	postUpdate(t, router, "user-1", map[string]any{
		"session_id": "sess-1",
		"embedding":  embeddingOnAxis(0),
	})

	body := bytes.NewReader([]byte(`{"articles": 10}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/user-1/reads", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/user-1/embedding/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var st ingest.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.SyncRequired {
		t.Error("10 tracked reads must set sync_required")
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _, _ := testServer(t)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("api_requests_total")) &&
		!bytes.Contains(rec.Body.Bytes(), []byte("go_goroutines")) {
		t.Error("metrics output looks empty")
	}
}
